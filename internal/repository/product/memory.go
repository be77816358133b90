package product

import (
	"context"
	"errors"
	"fmt"

	"checkout-engine/internal/domain"
	"checkout-engine/internal/memdb"
)

type memoryRepo struct {
	store *memdb.Store
}

func NewMemory(store *memdb.Store) Repository {
	return &memoryRepo{store: store}
}

func (r *memoryRepo) List(_ context.Context) ([]domain.Product, error) {
	var out []domain.Product
	err := r.store.View(func(tx *memdb.Tx) error {
		out = tx.Products()
		return nil
	})
	return out, err
}

func (r *memoryRepo) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.store.View(func(tx *memdb.Tx) error {
		var err error
		p, err = tx.Product(id)
		return err
	})
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *memoryRepo) Upsert(_ context.Context, product domain.Product) (*domain.Product, error) {
	var res domain.Product
	err := r.store.Update(func(tx *memdb.Tx) error {
		existing, err := tx.ProductByKey(product.Key)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			product.ID = 0
			res, err = tx.PutProduct(product)
			return err
		case err != nil:
			return err
		}
		existing.Name = product.Name
		existing.Description = product.Description
		existing.PriceCents = product.PriceCents
		res, err = tx.PutProduct(existing)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *memoryRepo) CreateBulk(_ context.Context, products []domain.Product) ([]domain.Product, error) {
	created := make([]domain.Product, 0, len(products))
	err := r.store.Update(func(tx *memdb.Tx) error {
		for _, p := range products {
			p.ID = 0
			res, err := tx.PutProduct(p)
			if err != nil {
				return fmt.Errorf("create product %q: %w", p.Key, err)
			}
			created = append(created, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *memoryRepo) Update(_ context.Context, id int64, in UpdateInput) (*domain.Product, error) {
	var res domain.Product
	err := r.store.Update(func(tx *memdb.Tx) error {
		p, err := tx.Product(id)
		if err != nil {
			return domain.ErrNotFound
		}
		if in.Name != nil {
			p.Name = *in.Name
		}
		if in.Description != nil {
			p.Description = *in.Description
		}
		if in.PriceCents != nil {
			p.PriceCents = *in.PriceCents
		}
		res, err = tx.PutProduct(p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *memoryRepo) Delete(_ context.Context, id int64) error {
	return r.store.Update(func(tx *memdb.Tx) error {
		if _, err := tx.Product(id); err != nil {
			return domain.ErrNotFound
		}
		if tx.CountLinesForProduct(id) > 0 {
			return fmt.Errorf("product %d: %w", id, domain.ErrProductInUse)
		}
		return tx.DeleteProduct(id)
	})
}
