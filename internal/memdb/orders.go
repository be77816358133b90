package memdb

import (
	"cmp"
	"fmt"
	"slices"

	"checkout-engine/internal/domain"
)

// InsertOrder stores o with its items, assigning ids and timestamps.
func (tx *Tx) InsertOrder(o domain.Order) (domain.Order, error) {
	if err := tx.writable(); err != nil {
		return domain.Order{}, err
	}
	s := tx.s
	if _, taken := s.orderNums[o.OrderNumber]; taken {
		return domain.Order{}, fmt.Errorf("order number %s already exists", o.OrderNumber)
	}
	now := s.now()
	s.nextOrderID++
	o.ID = s.nextOrderID
	if o.OrderDate.IsZero() {
		o.OrderDate = now
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	items := make([]domain.OrderItem, len(o.Items))
	for i, it := range o.Items {
		s.nextItemID++
		it.ID = s.nextItemID
		it.OrderID = o.ID
		items[i] = it
	}
	o.Items = items
	s.orders[o.ID] = o
	s.orderNums[o.OrderNumber] = o.ID
	tx.undo = append(tx.undo, func() {
		delete(s.orders, o.ID)
		delete(s.orderNums, o.OrderNumber)
	})
	return cloneOrder(o), nil
}

// Order returns the order with id.
func (tx *Tx) Order(id int64) (domain.Order, error) {
	o, ok := tx.s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	return cloneOrder(o), nil
}

// OrderByNumber returns the order with the given order number.
func (tx *Tx) OrderByNumber(number string) (domain.Order, error) {
	id, ok := tx.s.orderNums[number]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", number, domain.ErrNotFound)
	}
	return tx.Order(id)
}

// Orders returns every order, newest first.
func (tx *Tx) Orders() []domain.Order {
	out := make([]domain.Order, 0, len(tx.s.orders))
	for _, o := range tx.s.orders {
		out = append(out, cloneOrder(o))
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return cmp.Compare(b.ID, a.ID) })
	return out
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	return o
}
