package ledger

import (
	"context"
	"errors"
	"fmt"

	"checkout-engine/internal/coord"
	"checkout-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Postgres is a Ledger using optimistic concurrency on products.version.
// A lost compare-and-swap is retried with backoff under policy; running out of
// attempts yields domain.ErrConflict.
type Postgres struct {
	pool   *pgxpool.Pool
	policy coord.RetryPolicy
	logger zerolog.Logger
}

func NewPostgres(pool *pgxpool.Pool, policy coord.RetryPolicy, logger *zerolog.Logger) *Postgres {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "ledger").Logger()
	}
	return &Postgres{pool: pool, policy: policy, logger: l}
}

func (p *Postgres) Reserve(ctx context.Context, productID int64, delta int) (Level, error) {
	if delta <= 0 {
		return Level{}, domain.ErrInvalidQuantity
	}
	return p.apply(ctx, productID, -delta)
}

func (p *Postgres) Release(ctx context.Context, productID int64, delta int) (Level, error) {
	if delta <= 0 {
		return Level{}, domain.ErrInvalidQuantity
	}
	return p.apply(ctx, productID, delta)
}

func (p *Postgres) AdjustTo(ctx context.Context, productID int64, target, expectedCurrent int) (Level, error) {
	return adjust(ctx, p, productID, target, expectedCurrent)
}

func (p *Postgres) Available(ctx context.Context, productID int64) (Level, error) {
	lvl := Level{ProductID: productID}
	err := p.pool.QueryRow(ctx, `SELECT available_stock, version FROM products WHERE id = $1`, productID).Scan(&lvl.Available, &lvl.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{}, fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
		}
		return Level{}, domain.Persistence("ledger available", err)
	}
	return lvl, nil
}

func (p *Postgres) apply(ctx context.Context, productID int64, delta int) (Level, error) {
	const update = `
UPDATE products
SET available_stock = $1, version = version + 1, updated_at = now()
WHERE id = $2 AND version = $3
`
	var lvl Level
	err := coord.Retry(ctx, p.policy, func(attempt int) error {
		cur, err := p.Available(ctx, productID)
		if err != nil {
			return err
		}
		next := cur.Available + delta
		if next < 0 {
			return &domain.StockError{ProductID: productID, Requested: -delta, Available: cur.Available}
		}
		tag, err := p.pool.Exec(ctx, update, next, productID, cur.Version)
		if err != nil {
			return domain.Persistence("ledger update", err)
		}
		if tag.RowsAffected() == 0 {
			p.logger.Debug().Int64("product_id", productID).Int("attempt", attempt).Int64("version", cur.Version).Msg("version moved, retrying")
			return coord.ErrRetry
		}
		lvl = Level{ProductID: productID, Available: next, Version: cur.Version + 1}
		return nil
	})
	if errors.Is(err, coord.ErrAttemptsExhausted) {
		p.logger.Warn().Int64("product_id", productID).Int("delta", delta).Msg("ledger conflict after retries")
		return Level{}, fmt.Errorf("product %d: %w", productID, domain.ErrConflict)
	}
	if err != nil {
		return Level{}, err
	}
	p.logger.Debug().Int64("product_id", productID).Int("delta", delta).Int("available", lvl.Available).Msg("stock adjusted")
	return lvl, nil
}
