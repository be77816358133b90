package cart

import (
	"context"
	"errors"

	"checkout-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const lineSelect = `
SELECT l.id, l.session_id, l.product_id, l.quantity, l.created_at, l.updated_at,
       p.id, p.key, p.name, COALESCE(p.description, ''), p.price_cents, p.available_stock, p.version, p.created_at, p.updated_at
FROM cart_lines l
LEFT JOIN products p ON p.id = l.product_id
`

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *zerolog.Logger) Repository {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("repo", "cart").Logger()
	}
	return &postgresRepo{pool: pool, logger: l}
}

func (r *postgresRepo) ListLines(ctx context.Context, sessionID string) ([]domain.CartLine, error) {
	rows, err := r.pool.Query(ctx, lineSelect+`WHERE l.session_id = $1 ORDER BY l.created_at ASC, l.id ASC`, sessionID)
	if err != nil {
		r.logger.Error().Err(err).Str("session_id", sessionID).Msg("list lines")
		return nil, err
	}
	defer rows.Close()

	lines := []domain.CartLine{}
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *postgresRepo) GetLine(ctx context.Context, sessionID string, lineID int64) (*domain.CartLine, error) {
	return r.getOne(ctx, lineSelect+`WHERE l.session_id = $1 AND l.id = $2`, sessionID, lineID)
}

func (r *postgresRepo) GetLineByProduct(ctx context.Context, sessionID string, productID int64) (*domain.CartLine, error) {
	return r.getOne(ctx, lineSelect+`WHERE l.session_id = $1 AND l.product_id = $2`, sessionID, productID)
}

func (r *postgresRepo) InsertLine(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.CartLine, error) {
	const q = `
INSERT INTO cart_lines (session_id, product_id, quantity)
VALUES ($1, $2, $3)
RETURNING id
`
	var id int64
	if err := r.pool.QueryRow(ctx, q, sessionID, productID, quantity).Scan(&id); err != nil {
		r.logger.Error().Err(err).Str("session_id", sessionID).Int64("product_id", productID).Msg("insert line")
		return nil, err
	}
	return r.GetLine(ctx, sessionID, id)
}

func (r *postgresRepo) SetQuantity(ctx context.Context, sessionID string, lineID int64, quantity int) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE cart_lines
SET quantity = $3, updated_at = now()
WHERE session_id = $1 AND id = $2
`, sessionID, lineID, quantity)
	if err != nil {
		r.logger.Error().Err(err).Int64("line_id", lineID).Msg("set quantity")
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresRepo) DeleteLine(ctx context.Context, sessionID string, lineID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cart_lines WHERE session_id = $1 AND id = $2`, sessionID, lineID)
	if err != nil {
		r.logger.Error().Err(err).Int64("line_id", lineID).Msg("delete line")
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresRepo) SessionsWithProduct(ctx context.Context, productID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT session_id FROM cart_lines WHERE product_id = $1 ORDER BY session_id`, productID)
	if err != nil {
		r.logger.Error().Err(err).Int64("product_id", productID).Msg("sessions with product")
		return nil, err
	}
	sessions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []string{}
	}
	return sessions, nil
}

func (r *postgresRepo) getOne(ctx context.Context, q string, args ...any) (*domain.CartLine, error) {
	line, err := scanLine(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

func scanLine(row pgx.Row) (domain.CartLine, error) {
	var (
		line domain.CartLine
		p    struct {
			id          *int64
			key         *string
			name        *string
			description *string
			price       *int64
			stock       *int
			version     *int64
		}
		pc, pu pgtype.Timestamptz
	)
	err := row.Scan(
		&line.ID, &line.SessionID, &line.ProductID, &line.Quantity, &line.CreatedAt, &line.UpdatedAt,
		&p.id, &p.key, &p.name, &p.description, &p.price, &p.stock, &p.version, &pc, &pu,
	)
	if err != nil {
		return domain.CartLine{}, err
	}
	if p.id != nil {
		line.Product = &domain.Product{
			ID:             *p.id,
			Key:            deref(p.key),
			Name:           deref(p.name),
			Description:    deref(p.description),
			PriceCents:     deref(p.price),
			AvailableStock: deref(p.stock),
			Version:        deref(p.version),
			CreatedAt:      pc.Time,
			UpdatedAt:      pu.Time,
		}
	}
	return line, nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
