package mysql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/repository"

	"gorm.io/gorm"
)

type orderRepo struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) repository.OrderRepository {
	return &orderRepo{db: db}
}

func itemsInPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// Create inserts the order and its items in one statement batch.
func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		return errors.New("order id must be assigned before save")
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		order.Items[i].Position = i
	}

	if err := conn(ctx, r.db).Create(order).Error; err != nil {
		slog.ErrorContext(ctx, "order insert failed", "order_id", order.ID, "error", err)
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	err := conn(ctx, r.db).Preload("Items", itemsInPosition).First(&o, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order %s: %w", id, err)
	}
	return &o, nil
}

func (r *orderRepo) FindByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	var out []domain.Order
	err := conn(ctx, r.db).
		Preload("Items", itemsInPosition).
		Where("owner_id = ?", ownerID).
		Order("order_date DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find orders for owner %s: %w", ownerID, err)
	}
	return out, nil
}

func (r *orderRepo) FindAll(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	err := conn(ctx, r.db).
		Preload("Items", itemsInPosition).
		Order("order_date DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find all orders: %w", err)
	}
	return out, nil
}

// UpdateStatus is a compare-and-set on order_status. The connection is opened
// with clientFoundRows, so a matched row counts as affected even when the
// values did not change.
func (r *orderRepo) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, deliveryDate *time.Time) error {
	updates := map[string]any{
		"order_status": to,
		"updated_at":   time.Now(),
	}
	if deliveryDate != nil {
		updates["delivery_date"] = *deliveryDate
	}

	res := conn(ctx, r.db).
		Model(&domain.Order{}).
		Where("id = ? AND order_status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update order %s status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrStatusConflict
	}
	return nil
}
