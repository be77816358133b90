package order

import (
	"context"

	"checkout-engine/internal/domain"
	"checkout-engine/internal/memdb"
)

type memoryRepo struct {
	store *memdb.Store
}

func NewMemory(store *memdb.Store) Repository {
	return &memoryRepo{store: store}
}

func (r *memoryRepo) Commit(_ context.Context, in CommitInput) (*domain.Order, error) {
	var created domain.Order
	err := r.store.Update(func(tx *memdb.Tx) error {
		products := make(map[int64]domain.Product, len(in.Lines))
		for _, id := range productIDs(in.Lines) {
			if p, err := tx.Product(id); err == nil {
				products[id] = p
			}
		}
		items, err := buildItems(in.Lines, products)
		if err != nil {
			return err
		}
		if err := sameLines(tx.Lines(in.SessionID), in.Lines); err != nil {
			return err
		}

		created, err = tx.InsertOrder(domain.Order{
			OrderNumber:     in.OrderNumber,
			SessionID:       in.SessionID,
			Customer:        in.Customer,
			OrderTotalCents: domain.SumItems(items),
			Items:           items,
		})
		if err != nil {
			return domain.Persistence("insert order", err)
		}
		for _, l := range in.Lines {
			if err := tx.DeleteLine(in.SessionID, l.ID); err != nil {
				return domain.Persistence("delete cart line", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *memoryRepo) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	return r.getOne(func(tx *memdb.Tx) (domain.Order, error) { return tx.Order(id) })
}

func (r *memoryRepo) GetByNumber(_ context.Context, number string) (*domain.Order, error) {
	return r.getOne(func(tx *memdb.Tx) (domain.Order, error) { return tx.OrderByNumber(number) })
}

func (r *memoryRepo) List(_ context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.store.View(func(tx *memdb.Tx) error {
		orders = tx.Orders()
		return nil
	})
	return orders, err
}

func (r *memoryRepo) getOne(get func(tx *memdb.Tx) (domain.Order, error)) (*domain.Order, error) {
	var o domain.Order
	err := r.store.View(func(tx *memdb.Tx) error {
		var err error
		o, err = get(tx)
		return err
	})
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}
