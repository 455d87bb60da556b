package mysql

import (
	"context"
	"errors"
	"fmt"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/repository"

	"gorm.io/gorm"
)

type productRepo struct {
	db *gorm.DB
	tx repository.Transactor
}

func NewProductRepository(db *gorm.DB) repository.ProductRepository {
	return &productRepo{db: db, tx: NewTransactor(db)}
}

func (r *productRepo) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	if err := conn(ctx, r.db).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find product %s: %w", id, err)
	}
	return &p, nil
}

// AdjustQuantities issues one `quantity = quantity + ?` per product. A
// decrement only matches while enough stock is left, so a miss is either an
// unknown product or a shortfall; the transaction is rolled back in both cases.
func (r *productRepo) AdjustQuantities(ctx context.Context, adjustments []domain.StockAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}

	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		db := conn(ctx, r.db)
		for _, adj := range adjustments {
			if adj.Delta == 0 {
				continue
			}

			q := db.Model(&domain.Product{}).Where("id = ?", adj.ProductID)
			if adj.Delta < 0 {
				q = q.Where("quantity >= ?", -adj.Delta)
			}
			res := q.UpdateColumn("quantity", gorm.Expr("quantity + ?", adj.Delta))
			if res.Error != nil {
				return fmt.Errorf("adjust product %s by %d: %w", adj.ProductID, adj.Delta, res.Error)
			}
			if res.RowsAffected > 0 {
				continue
			}

			var n int64
			if err := db.Model(&domain.Product{}).Where("id = ?", adj.ProductID).Count(&n).Error; err != nil {
				return fmt.Errorf("count product %s: %w", adj.ProductID, err)
			}
			if n == 0 {
				return fmt.Errorf("%w: %s", repository.ErrProductNotFound, adj.ProductID)
			}
			return fmt.Errorf("%w: product %s", repository.ErrInsufficientStock, adj.ProductID)
		}
		return nil
	})
}
