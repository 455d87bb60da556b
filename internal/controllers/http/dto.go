package http

import (
	"storefront-orders/internal/domain"
	"storefront-orders/internal/services"
)

type OrderItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,min=1"`
}

type ShippingInfoRequest struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address" binding:"required"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
}

// CreateOrderRequest carries no prices: costs and the total are taken from
// the catalogue when the order is placed.
type CreateOrderRequest struct {
	Items         []OrderItemRequest  `json:"items" binding:"required,min=1,dive"`
	ShippingInfo  ShippingInfoRequest `json:"shippingInfo"`
	PaymentMethod string              `json:"paymentMethod" binding:"omitempty,oneof=card upi cod"`
}

func (r CreateOrderRequest) toInput() services.CreateOrderInput {
	lines := make([]services.OrderLine, len(r.Items))
	for i, it := range r.Items {
		lines[i] = services.OrderLine{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return services.CreateOrderInput{
		Items: lines,
		ShippingInfo: domain.ShippingInfo{
			Name:    r.ShippingInfo.Name,
			Address: r.ShippingInfo.Address,
			City:    r.ShippingInfo.City,
			State:   r.ShippingInfo.State,
			ZipCode: r.ShippingInfo.ZipCode,
			Country: r.ShippingInfo.Country,
			Phone:   r.ShippingInfo.Phone,
		},
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
	}
}

type UpdateOrderStatusRequest struct {
	OrderStatus string `json:"orderStatus" binding:"required"`
}

type OrderResponse struct {
	Success bool          `json:"success"`
	Order   *domain.Order `json:"order"`
	Message string        `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
