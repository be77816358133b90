package seed

import (
	"context"
	"fmt"

	"checkout-engine/internal/domain"
)

// ProductWriter is satisfied by every product repository.
type ProductWriter interface {
	Upsert(ctx context.Context, product domain.Product) (*domain.Product, error)
}

// Products is the demo catalog. Stock applies only when a key is new.
var Products = []domain.Product{
	{Key: "demo-shirt", Name: "Demo T-Shirt", Description: "Soft cotton tee for demo purposes", PriceCents: 1999, AvailableStock: 25},
	{Key: "demo-mug", Name: "Demo Mug", Description: "Ceramic mug with demo logo", PriceCents: 1299, AvailableStock: 40},
	{Key: "demo-poster", Name: "Demo Poster", Description: "Limited print run", PriceCents: 2500, AvailableStock: 3},
	{Key: "demo-sticker", Name: "Demo Sticker", Description: "Last one in the box", PriceCents: 199, AvailableStock: 1},
}

// Apply upserts the demo catalog. Running it again refreshes names and
// prices but never resets stock already reserved by carts.
func Apply(ctx context.Context, w ProductWriter) (int, error) {
	for i, p := range Products {
		if _, err := w.Upsert(ctx, p); err != nil {
			return i, fmt.Errorf("upsert product %s: %w", p.Key, err)
		}
	}
	return len(Products), nil
}
