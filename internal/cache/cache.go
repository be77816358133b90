// Package cache holds Redis-backed projections: the cart snapshot cache and
// the checkout idempotency keys. Neither is a source of truth.
package cache

import (
	"context"
	"time"

	"checkout-engine/internal/domain"
)

const (
	// cart:{session_id} -> JSON cart snapshot
	KeyCart = "cart:%s"
	// idem:order:{session_id}:{idempotency_key} -> order id
	KeyIdemOrder = "idem:order:%s:%s"
)

var (
	TTLCart        = 5 * time.Minute
	TTLIdempotency = 24 * time.Hour
)

// CartCache is a read-through projection of server-side carts. Every cart
// mutation must invalidate the session's entry.
type CartCache interface {
	GetCart(ctx context.Context, sessionID string) (*domain.Cart, bool, error)
	SetCart(ctx context.Context, cart *domain.Cart) error
	InvalidateCart(ctx context.Context, sessionID string) error
}

// IdempotencyStore remembers which order an idempotency key produced. Keys
// are scoped to the session that presented them.
type IdempotencyStore interface {
	LookupOrder(ctx context.Context, sessionID, key string) (int64, bool, error)
	RememberOrder(ctx context.Context, sessionID, key string, orderID int64) error
}

// Nop disables caching and idempotency.
type Nop struct{}

func (Nop) GetCart(context.Context, string) (*domain.Cart, bool, error) { return nil, false, nil }
func (Nop) SetCart(context.Context, *domain.Cart) error                 { return nil }
func (Nop) InvalidateCart(context.Context, string) error                { return nil }
func (Nop) LookupOrder(context.Context, string, string) (int64, bool, error) {
	return 0, false, nil
}
func (Nop) RememberOrder(context.Context, string, string, int64) error { return nil }
