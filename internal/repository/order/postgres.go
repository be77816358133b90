package order

import (
	"context"
	"errors"

	"checkout-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const orderColumns = `id, order_number::text, session_id, first_name, last_name, address, postcode, city, email, phone, order_total_cents, order_date, created_at, updated_at`

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *zerolog.Logger) Repository {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("repo", "order").Logger()
	}
	return &postgresRepo{pool: pool, logger: l}
}

func (r *postgresRepo) Commit(ctx context.Context, in CommitInput) (*domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, domain.Persistence("begin commit", err)
	}
	defer tx.Rollback(ctx)

	products, err := lockProducts(ctx, tx, productIDs(in.Lines))
	if err != nil {
		return nil, domain.Persistence("lock products", err)
	}
	items, err := buildItems(in.Lines, products)
	if err != nil {
		return nil, err
	}

	stored, err := lockLines(ctx, tx, in.SessionID)
	if err != nil {
		return nil, domain.Persistence("lock cart lines", err)
	}
	if err := sameLines(stored, in.Lines); err != nil {
		return nil, err
	}

	o := domain.Order{
		OrderNumber:     in.OrderNumber,
		SessionID:       in.SessionID,
		Customer:        in.Customer,
		OrderTotalCents: domain.SumItems(items),
	}
	const insertOrder = `
INSERT INTO orders (order_number, session_id, first_name, last_name, address, postcode, city, email, phone, order_total_cents)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, order_date, created_at, updated_at
`
	c := in.Customer
	if err := tx.QueryRow(ctx, insertOrder,
		o.OrderNumber, o.SessionID, c.FirstName, c.LastName, c.Address, c.Postcode, c.City, c.Email, c.Phone, o.OrderTotalCents,
	).Scan(&o.ID, &o.OrderDate, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, domain.Persistence("insert order", err)
	}

	const insertItem = `
INSERT INTO order_items (order_id, product_id, product_name, qty, item_price_cents, item_total_cents)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(insertItem, o.ID, it.ProductID, it.ProductName, it.Qty, it.ItemPriceCents, it.ItemTotalCents)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range items {
		items[i].OrderID = o.ID
		if err := br.QueryRow().Scan(&items[i].ID); err != nil {
			br.Close()
			return nil, domain.Persistence("insert order item", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, domain.Persistence("insert order items", err)
	}
	o.Items = items

	lineIDs := make([]int64, 0, len(in.Lines))
	for _, l := range in.Lines {
		lineIDs = append(lineIDs, l.ID)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE session_id = $1 AND id = ANY($2)`, in.SessionID, lineIDs)
	if err != nil {
		return nil, domain.Persistence("delete cart lines", err)
	}
	if int(tag.RowsAffected()) != len(lineIDs) {
		return nil, domain.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Persistence("commit order", err)
	}
	r.logger.Info().Int64("order_id", o.ID).Str("order_number", o.OrderNumber).Int("items", len(items)).Int64("total_cents", o.OrderTotalCents).Msg("order committed")
	return &o, nil
}

func lockProducts(ctx context.Context, tx pgx.Tx, ids []int64) (map[int64]domain.Product, error) {
	rows, err := tx.Query(ctx, `
SELECT id, name, price_cents
FROM products
WHERE id = ANY($1)
ORDER BY id
FOR UPDATE
`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make(map[int64]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents); err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	return products, rows.Err()
}

func lockLines(ctx context.Context, tx pgx.Tx, sessionID string) ([]domain.CartLine, error) {
	rows, err := tx.Query(ctx, `
SELECT id, product_id, quantity
FROM cart_lines
WHERE session_id = $1
ORDER BY id
FOR UPDATE
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.ProductID, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *postgresRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *postgresRepo) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number::text = $1`, number)
}

func (r *postgresRepo) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		items, err := r.items(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *postgresRepo) getOne(ctx context.Context, q string, arg any) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	items, err := r.items(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *postgresRepo) items(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, order_id, product_id, product_name, qty, item_price_cents, item_total_cents
FROM order_items
WHERE order_id = $1
ORDER BY id
`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.OrderItem{}
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Qty, &it.ItemPriceCents, &it.ItemTotalCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	c := &o.Customer
	err := row.Scan(&o.ID, &o.OrderNumber, &o.SessionID, &c.FirstName, &c.LastName, &c.Address, &c.Postcode, &c.City, &c.Email, &c.Phone,
		&o.OrderTotalCents, &o.OrderDate, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
