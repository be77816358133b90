// Package memdb is an in-process table store with the same shape as the
// Postgres schema. Writes run inside Update transactions that roll back on
// error.
package memdb

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"checkout-engine/internal/domain"
)

var errReadOnly = errors.New("memdb: write in read-only transaction")

// Store holds products, cart lines and orders.
type Store struct {
	mu sync.RWMutex

	products    map[int64]domain.Product
	productKeys map[string]int64
	lines       map[int64]domain.CartLine
	orders      map[int64]domain.Order
	orderNums   map[string]int64

	nextProductID int64
	nextLineID    int64
	nextOrderID   int64
	nextItemID    int64

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		products:    make(map[int64]domain.Product),
		productKeys: make(map[string]int64),
		lines:       make(map[int64]domain.CartLine),
		orders:      make(map[int64]domain.Order),
		orderNums:   make(map[string]int64),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Update runs fn under the write lock. Any error or panic undoes every write
// fn made.
func (s *Store) Update(fn func(tx *Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

// View runs fn under the read lock.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&Tx{s: s, readOnly: true})
}

// Tx is a handle to the store for the duration of Update or View.
type Tx struct {
	s        *Store
	readOnly bool
	undo     []func()
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *Tx) writable() error {
	if tx.readOnly {
		return errReadOnly
	}
	return nil
}

// Product returns the product with id.
func (tx *Tx) Product(id int64) (domain.Product, error) {
	p, ok := tx.s.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// ProductByKey returns the product registered under key.
func (tx *Tx) ProductByKey(key string) (domain.Product, error) {
	id, ok := tx.s.productKeys[key]
	if !ok {
		return domain.Product{}, fmt.Errorf("product key %q: %w", key, domain.ErrNotFound)
	}
	return tx.Product(id)
}

// Products returns every product ordered by id.
func (tx *Tx) Products() []domain.Product {
	out := make([]domain.Product, 0, len(tx.s.products))
	for _, p := range tx.s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// PutProduct inserts p when its ID is zero and replaces the stored row otherwise.
func (tx *Tx) PutProduct(p domain.Product) (domain.Product, error) {
	if err := tx.writable(); err != nil {
		return domain.Product{}, err
	}
	s := tx.s
	now := s.now()
	if p.ID == 0 {
		if p.Key != "" {
			if _, taken := s.productKeys[p.Key]; taken {
				return domain.Product{}, fmt.Errorf("product key %q already exists", p.Key)
			}
		}
		s.nextProductID++
		p.ID = s.nextProductID
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		if p.Key != "" {
			s.productKeys[p.Key] = p.ID
		}
		id, key := p.ID, p.Key
		tx.undo = append(tx.undo, func() {
			delete(s.products, id)
			if key != "" {
				delete(s.productKeys, key)
			}
		})
		return p, nil
	}

	prev, ok := s.products[p.ID]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %d: %w", p.ID, domain.ErrNotFound)
	}
	p.CreatedAt = prev.CreatedAt
	p.UpdatedAt = now
	p.Key = prev.Key
	s.products[p.ID] = p
	tx.undo = append(tx.undo, func() { s.products[prev.ID] = prev })
	return p, nil
}

// DeleteProduct removes the product with id.
func (tx *Tx) DeleteProduct(id int64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	s := tx.s
	prev, ok := s.products[id]
	if !ok {
		return fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	delete(s.products, id)
	if prev.Key != "" {
		delete(s.productKeys, prev.Key)
	}
	tx.undo = append(tx.undo, func() {
		s.products[id] = prev
		if prev.Key != "" {
			s.productKeys[prev.Key] = id
		}
	})
	return nil
}
