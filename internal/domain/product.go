package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the slice of the catalogue entity that order handling reads and
// adjusts. The catalogue owns every other field.
type Product struct {
	ID           string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ProductName  string          `json:"productName" gorm:"type:varchar(255);not null"`
	ProductImage string          `json:"productImage" gorm:"type:varchar(1024)"`
	Cost         decimal.Decimal `json:"cost" gorm:"type:decimal(12,2);not null"`
	Quantity     int64           `json:"quantity" gorm:"not null;default:0"`
	UpdatedAt    time.Time       `json:"updatedAt" gorm:"autoUpdateTime"`
}

type User struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name     string `json:"name" gorm:"type:varchar(255)"`
	Email    string `json:"email" gorm:"type:varchar(255);uniqueIndex"`
	UserType string `json:"userType" gorm:"type:varchar(32);default:'customer'"`
}

const UserTypeAdmin = "admin"

func (u *User) IsAdmin() bool {
	return u.UserType == UserTypeAdmin
}

// Requester is the authenticated caller of an order operation.
type Requester struct {
	ID      string
	IsAdmin bool
}

func (r Requester) CanAccess(o *Order) bool {
	return r.IsAdmin || o.OwnedBy(r.ID)
}
