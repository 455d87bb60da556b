package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderCancelled     = "order.cancelled"
	EventOrderStatusUpdated = "order.status_updated"
)

type OrderEvent struct {
	OrderID        string          `json:"orderId"`
	OwnerID        string          `json:"ownerId"`
	PreviousStatus OrderStatus     `json:"previousStatus,omitempty"`
	OrderStatus    OrderStatus     `json:"orderStatus"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	StockEffect    string          `json:"stockEffect"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

func NewOrderEvent(o *Order, previous OrderStatus, effect StockEffect, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:        o.ID,
		OwnerID:        o.OwnerID,
		PreviousStatus: previous,
		OrderStatus:    o.OrderStatus,
		PaymentMethod:  o.PaymentMethod,
		PaymentStatus:  o.PaymentStatus,
		TotalAmount:    o.TotalAmount,
		StockEffect:    effect.String(),
		OccurredAt:     at,
	}
}
