package product

import (
	"context"
	"errors"
	"fmt"

	"checkout-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const productColumns = `id, key, name, COALESCE(description, ''), price_cents, available_stock, version, created_at, updated_at`

const foreignKeyViolation = "23503"

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *zerolog.Logger) Repository {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("repo", "product").Logger()
	}
	return &postgresRepo{pool: pool, logger: l}
}

func scanProduct(row pgx.Row, p *domain.Product) error {
	return row.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.PriceCents, &p.AvailableStock, &p.Version, &p.CreatedAt, &p.UpdatedAt)
}

func (r *postgresRepo) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		r.logger.Error().Err(err).Msg("list")
		return nil, err
	}
	defer rows.Close()

	result := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("list rows")
		return nil, err
	}
	r.logger.Debug().Int("count", len(result)).Msg("list")
	return result, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id), &p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Int64("id", id).Msg("get: not found")
			return nil, domain.ErrNotFound
		}
		r.logger.Error().Err(err).Int64("id", id).Msg("get")
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepo) Upsert(ctx context.Context, product domain.Product) (*domain.Product, error) {
	const q = `
INSERT INTO products (key, name, description, price_cents, available_stock)
VALUES ($1, $2, NULLIF($3, ''), $4, $5)
ON CONFLICT (key) DO UPDATE SET
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    price_cents = EXCLUDED.price_cents,
    updated_at = now()
RETURNING ` + productColumns
	var res domain.Product
	err := scanProduct(r.pool.QueryRow(ctx, q, product.Key, product.Name, product.Description, product.PriceCents, product.AvailableStock), &res)
	if err != nil {
		r.logger.Error().Err(err).Str("key", product.Key).Msg("upsert")
		return nil, err
	}
	r.logger.Debug().Str("key", res.Key).Int64("id", res.ID).Msg("upserted")
	return &res, nil
}

func (r *postgresRepo) CreateBulk(ctx context.Context, products []domain.Product) ([]domain.Product, error) {
	const q = `
INSERT INTO products (key, name, description, price_cents, available_stock)
VALUES ($1, $2, NULLIF($3, ''), $4, $5)
RETURNING ` + productColumns

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(q, p.Key, p.Name, p.Description, p.PriceCents, p.AvailableStock)
	}
	br := tx.SendBatch(ctx, batch)
	created := make([]domain.Product, 0, len(products))
	for i := range products {
		var p domain.Product
		if err := scanProduct(br.QueryRow(), &p); err != nil {
			br.Close()
			r.logger.Error().Err(err).Str("key", products[i].Key).Msg("bulk create")
			return nil, fmt.Errorf("create product %q: %w", products[i].Key, err)
		}
		created = append(created, p)
	}
	if err := br.Close(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	r.logger.Info().Int("count", len(created)).Msg("bulk created")
	return created, nil
}

func (r *postgresRepo) Update(ctx context.Context, id int64, in UpdateInput) (*domain.Product, error) {
	const q = `
UPDATE products
SET name = COALESCE($2, name),
    description = COALESCE($3, description),
    price_cents = COALESCE($4, price_cents),
    updated_at = now()
WHERE id = $1
RETURNING ` + productColumns
	var p domain.Product
	err := scanProduct(r.pool.QueryRow(ctx, q, id, in.Name, in.Description, in.PriceCents), &p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error().Err(err).Int64("id", id).Msg("update")
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("product %d: %w", id, domain.ErrProductInUse)
		}
		r.logger.Error().Err(err).Int64("id", id).Msg("delete")
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.Info().Int64("id", id).Msg("deleted")
	return nil
}
