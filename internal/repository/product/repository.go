package product

import (
	"context"

	"checkout-engine/internal/domain"
)

// UpdateInput changes catalog fields. Stock is owned by the ledger and is
// never written here.
type UpdateInput struct {
	Name        *string
	Description *string
	PriceCents  *int64
}

type Repository interface {
	List(ctx context.Context) ([]domain.Product, error)
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	// Upsert inserts by key, or refreshes name, description and price of the
	// existing row. Stock is only set on insert.
	Upsert(ctx context.Context, product domain.Product) (*domain.Product, error)
	CreateBulk(ctx context.Context, products []domain.Product) ([]domain.Product, error)
	Update(ctx context.Context, id int64, in UpdateInput) (*domain.Product, error)
	Delete(ctx context.Context, id int64) error
}
