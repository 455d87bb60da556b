package repository

import (
	"context"
	"errors"
	"time"

	"storefront-orders/internal/domain"
)

var (
	// ErrStatusConflict means the order was no longer in the expected status
	// when the conditional update ran.
	ErrStatusConflict    = errors.New("order status changed concurrently")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
)

// Finders return (nil, nil) when the record does not exist.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	FindByOwner(ctx context.Context, ownerID string) ([]domain.Order, error)
	FindAll(ctx context.Context) ([]domain.Order, error)
	// UpdateStatus moves the order from one status to another. deliveryDate
	// is written only when non-nil.
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, deliveryDate *time.Time) error
}

type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Product, error)
	// AdjustQuantities applies every adjustment atomically at the field
	// level, all or nothing. A negative delta never takes a quantity below
	// zero; ErrInsufficientStock is returned instead.
	AdjustQuantities(ctx context.Context, adjustments []domain.StockAdjustment) error
}

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// Transactor runs fn inside one database transaction. Repositories called
// with the ctx passed to fn join that transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
