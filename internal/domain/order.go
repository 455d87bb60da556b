package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether a customer may no longer cancel an order in this status.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "card"
	PaymentUPI  PaymentMethod = "upi"
	PaymentCOD  PaymentMethod = "cod"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentUPI, PaymentCOD:
		return true
	}
	return false
}

// InitialPaymentStatus is the payment status an order starts with: cash on
// delivery stays pending, everything else is captured at checkout.
func (m PaymentMethod) InitialPaymentStatus() PaymentStatus {
	if m == PaymentCOD {
		return PaymentPending
	}
	return PaymentCompleted
}

func (m PaymentMethod) Label() string {
	if m == PaymentCOD {
		return "Cash on Delivery"
	}
	return "Online Payment"
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type ShippingInfo struct {
	Name    string `json:"name" gorm:"type:varchar(255);not null"`
	Address string `json:"address" gorm:"type:varchar(512);not null"`
	City    string `json:"city,omitempty" gorm:"type:varchar(128)"`
	State   string `json:"state,omitempty" gorm:"type:varchar(128)"`
	ZipCode string `json:"zipCode,omitempty" gorm:"type:varchar(32)"`
	Country string `json:"country" gorm:"type:varchar(128);not null"`
	Phone   string `json:"phone" gorm:"type:varchar(32);not null"`
}

// OrderItem fields are copied from the product when the order is placed and
// never re-synced afterwards.
type OrderItem struct {
	ID           uint64          `json:"-" gorm:"primaryKey;autoIncrement"`
	OrderID      string          `json:"-" gorm:"type:char(36);not null;index"`
	Position     int             `json:"-" gorm:"not null"`
	ProductID    string          `json:"productId" gorm:"type:varchar(64);not null"`
	ProductName  string          `json:"productName" gorm:"type:varchar(255);not null"`
	ProductImage string          `json:"productImage" gorm:"type:varchar(1024)"`
	Quantity     int64           `json:"quantity" gorm:"not null"`
	UnitCost     decimal.Decimal `json:"unitCost" gorm:"type:decimal(12,2);not null"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitCost.Mul(decimal.NewFromInt(i.Quantity))
}

type Order struct {
	ID            string          `json:"id" gorm:"primaryKey;type:char(36)"`
	OwnerID       string          `json:"ownerId" gorm:"type:varchar(64);not null;index"`
	Items         []OrderItem     `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	TotalAmount   decimal.Decimal `json:"totalAmount" gorm:"type:decimal(12,2);not null"`
	ShippingInfo  ShippingInfo    `json:"shippingInfo" gorm:"embedded;embeddedPrefix:shipping_"`
	PaymentMethod PaymentMethod   `json:"paymentMethod" gorm:"type:enum('card','upi','cod');default:'cod';not null"`
	PaymentStatus PaymentStatus   `json:"paymentStatus" gorm:"type:enum('pending','completed','failed');default:'pending';not null"`
	OrderStatus   OrderStatus     `json:"orderStatus" gorm:"type:enum('processing','shipped','delivered','cancelled');default:'processing';not null;index"`
	OrderDate     time.Time       `json:"orderDate" gorm:"not null;index"`
	DeliveryDate  *time.Time      `json:"deliveryDate,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentCompleted
}

func (o *Order) OwnedBy(userID string) bool {
	return o.OwnerID != "" && o.OwnerID == userID
}

// SumItems recomputes the order total from the item snapshots.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}
