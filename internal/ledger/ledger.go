// Package ledger owns the available_stock counter of every product. All
// stock writes go through a Ledger.
package ledger

import (
	"context"

	"checkout-engine/internal/domain"
)

// Level is the stock of a product right after a ledger operation.
type Level struct {
	ProductID int64
	Available int
	Version   int64
}

// Ledger reserves and releases units of available stock.
//
// Reserve fails with *domain.StockError when delta exceeds the available
// stock. Release and Reserve fail with domain.ErrNotFound when the product is
// gone and domain.ErrConflict when concurrent writers kept winning.
// AdjustTo moves a reservation from expectedCurrent to target units.
type Ledger interface {
	Reserve(ctx context.Context, productID int64, delta int) (Level, error)
	Release(ctx context.Context, productID int64, delta int) (Level, error)
	AdjustTo(ctx context.Context, productID int64, target, expectedCurrent int) (Level, error)
	Available(ctx context.Context, productID int64) (Level, error)
}

// adjust routes AdjustTo to Reserve or Release by the sign of the difference.
func adjust(ctx context.Context, l Ledger, productID int64, target, expectedCurrent int) (Level, error) {
	if target < 0 || expectedCurrent < 0 {
		return Level{}, domain.ErrInvalidQuantity
	}
	diff := target - expectedCurrent
	switch {
	case diff > 0:
		return l.Reserve(ctx, productID, diff)
	case diff < 0:
		return l.Release(ctx, productID, -diff)
	default:
		return l.Available(ctx, productID)
	}
}
