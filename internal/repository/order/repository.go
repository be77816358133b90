package order

import (
	"context"
	"fmt"

	"checkout-engine/internal/domain"
)

// CommitInput is a validated cart ready to become an order.
type CommitInput struct {
	SessionID   string
	OrderNumber string
	Customer    domain.CustomerInfo
	Lines       []domain.CartLine
}

// Repository persists orders.
//
// Commit is all-or-nothing: it locks the referenced products in ascending id
// order, snapshots their name and price into order items, inserts the order
// and deletes exactly the committed cart lines. A missing product yields a
// *domain.RejectedError and a cart that no longer matches Lines yields
// domain.ErrConflict; nothing is persisted in either case.
type Repository interface {
	Commit(ctx context.Context, in CommitInput) (*domain.Order, error)
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}

// buildItems snapshots products into items in cart line order.
func buildItems(lines []domain.CartLine, products map[int64]domain.Product) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, &domain.RejectedError{Reason: "product no longer exists", ProductID: l.ProductID}
		}
		items = append(items, domain.NewOrderItem(p, l.Quantity))
	}
	return items, nil
}

// sameLines reports whether stored matches the lines being committed.
func sameLines(stored, committing []domain.CartLine) error {
	if len(stored) != len(committing) {
		return fmt.Errorf("cart changed during checkout: %w", domain.ErrConflict)
	}
	byID := make(map[int64]domain.CartLine, len(stored))
	for _, l := range stored {
		byID[l.ID] = l
	}
	for _, l := range committing {
		s, ok := byID[l.ID]
		if !ok || s.ProductID != l.ProductID || s.Quantity != l.Quantity {
			return fmt.Errorf("cart line %d changed during checkout: %w", l.ID, domain.ErrConflict)
		}
	}
	return nil
}

func productIDs(lines []domain.CartLine) []int64 {
	c := domain.Cart{Lines: lines}
	return c.ProductIDs()
}
