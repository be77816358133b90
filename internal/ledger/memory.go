package ledger

import (
	"context"
	"errors"

	"checkout-engine/internal/coord"
	"checkout-engine/internal/domain"
	"checkout-engine/internal/memdb"
	"github.com/rs/zerolog"
)

// Memory is a Ledger over a memdb.Store. Each operation holds the product's
// coordinator lock for its read-modify-write.
type Memory struct {
	store  *memdb.Store
	locks  *coord.KeyedMutex[int64]
	logger zerolog.Logger
}

// NewMemory builds a Memory ledger. locks must be the product lock set shared
// with the checkout workflow.
func NewMemory(store *memdb.Store, locks *coord.KeyedMutex[int64], logger *zerolog.Logger) *Memory {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "ledger").Logger()
	}
	return &Memory{store: store, locks: locks, logger: l}
}

func (m *Memory) Reserve(ctx context.Context, productID int64, delta int) (Level, error) {
	if delta <= 0 {
		return Level{}, domain.ErrInvalidQuantity
	}
	return m.apply(ctx, productID, -delta)
}

func (m *Memory) Release(ctx context.Context, productID int64, delta int) (Level, error) {
	if delta <= 0 {
		return Level{}, domain.ErrInvalidQuantity
	}
	return m.apply(ctx, productID, delta)
}

func (m *Memory) AdjustTo(ctx context.Context, productID int64, target, expectedCurrent int) (Level, error) {
	return adjust(ctx, m, productID, target, expectedCurrent)
}

func (m *Memory) Available(ctx context.Context, productID int64) (Level, error) {
	if err := ctx.Err(); err != nil {
		return Level{}, err
	}
	var lvl Level
	err := m.store.View(func(tx *memdb.Tx) error {
		p, err := tx.Product(productID)
		if err != nil {
			return err
		}
		lvl = Level{ProductID: p.ID, Available: p.AvailableStock, Version: p.Version}
		return nil
	})
	return lvl, err
}

func (m *Memory) apply(ctx context.Context, productID int64, delta int) (Level, error) {
	if err := ctx.Err(); err != nil {
		return Level{}, err
	}
	unlock := m.locks.Lock(productID)
	defer unlock()

	var lvl Level
	err := m.store.Update(func(tx *memdb.Tx) error {
		p, err := tx.Product(productID)
		if err != nil {
			return err
		}
		if delta < 0 && !p.CanReserve(-delta) {
			return &domain.StockError{ProductID: productID, Requested: -delta, Available: p.AvailableStock}
		}
		p.AvailableStock += delta
		p.Version++
		if _, err := tx.PutProduct(p); err != nil {
			return err
		}
		lvl = Level{ProductID: p.ID, Available: p.AvailableStock, Version: p.Version}
		return nil
	})
	if err != nil {
		var stockErr *domain.StockError
		if errors.As(err, &stockErr) {
			m.logger.Debug().Int64("product_id", productID).Int("requested", stockErr.Requested).Int("available", stockErr.Available).Msg("reserve refused")
		}
		return Level{}, err
	}
	m.logger.Debug().Int64("product_id", productID).Int("delta", delta).Int("available", lvl.Available).Msg("stock adjusted")
	return lvl, nil
}
