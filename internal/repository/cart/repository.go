package cart

import (
	"context"

	"checkout-engine/internal/domain"
)

// Repository persists cart lines. It never touches stock; callers pair every
// write with the matching ledger operation.
type Repository interface {
	ListLines(ctx context.Context, sessionID string) ([]domain.CartLine, error)
	GetLine(ctx context.Context, sessionID string, lineID int64) (*domain.CartLine, error)
	GetLineByProduct(ctx context.Context, sessionID string, productID int64) (*domain.CartLine, error)
	InsertLine(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.CartLine, error)
	SetQuantity(ctx context.Context, sessionID string, lineID int64, quantity int) error
	DeleteLine(ctx context.Context, sessionID string, lineID int64) error
	// SessionsWithProduct lists the sessions holding a line for productID.
	SessionsWithProduct(ctx context.Context, productID int64) ([]string, error)
}
