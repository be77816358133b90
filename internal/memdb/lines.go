package memdb

import (
	"cmp"
	"fmt"
	"slices"

	"checkout-engine/internal/domain"
)

// Lines returns the session's cart lines in insertion order with their
// current product attached.
func (tx *Tx) Lines(sessionID string) []domain.CartLine {
	out := make([]domain.CartLine, 0)
	for _, l := range tx.s.lines {
		if l.SessionID != sessionID {
			continue
		}
		out = append(out, tx.withProduct(l))
	}
	slices.SortFunc(out, func(a, b domain.CartLine) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// CountLinesForProduct reports how many cart lines reference productID.
func (tx *Tx) CountLinesForProduct(productID int64) int {
	n := 0
	for _, l := range tx.s.lines {
		if l.ProductID == productID {
			n++
		}
	}
	return n
}

// SessionsHoldingProduct lists, sorted, the sessions with a line for productID.
func (tx *Tx) SessionsHoldingProduct(productID int64) []string {
	out := make([]string, 0)
	for _, l := range tx.s.lines {
		if l.ProductID == productID && !slices.Contains(out, l.SessionID) {
			out = append(out, l.SessionID)
		}
	}
	slices.Sort(out)
	return out
}

// Line returns the session's line with id.
func (tx *Tx) Line(sessionID string, id int64) (domain.CartLine, error) {
	l, ok := tx.s.lines[id]
	if !ok || l.SessionID != sessionID {
		return domain.CartLine{}, fmt.Errorf("cart line %d: %w", id, domain.ErrNotFound)
	}
	return tx.withProduct(l), nil
}

// LineByProduct returns the session's line for productID.
func (tx *Tx) LineByProduct(sessionID string, productID int64) (domain.CartLine, error) {
	for _, l := range tx.s.lines {
		if l.SessionID == sessionID && l.ProductID == productID {
			return tx.withProduct(l), nil
		}
	}
	return domain.CartLine{}, fmt.Errorf("cart line for product %d: %w", productID, domain.ErrNotFound)
}

// InsertLine adds a line. A session holds at most one line per product.
func (tx *Tx) InsertLine(sessionID string, productID int64, qty int) (domain.CartLine, error) {
	if err := tx.writable(); err != nil {
		return domain.CartLine{}, err
	}
	if _, err := tx.LineByProduct(sessionID, productID); err == nil {
		return domain.CartLine{}, fmt.Errorf("cart line for product %d already exists", productID)
	}
	if _, err := tx.Product(productID); err != nil {
		return domain.CartLine{}, err
	}
	s := tx.s
	now := s.now()
	s.nextLineID++
	l := domain.CartLine{
		ID:        s.nextLineID,
		SessionID: sessionID,
		ProductID: productID,
		Quantity:  qty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.lines[l.ID] = l
	tx.undo = append(tx.undo, func() { delete(s.lines, l.ID) })
	return tx.withProduct(l), nil
}

// SetLineQuantity overwrites the quantity of the session's line id.
func (tx *Tx) SetLineQuantity(sessionID string, id int64, qty int) error {
	if err := tx.writable(); err != nil {
		return err
	}
	s := tx.s
	prev, ok := s.lines[id]
	if !ok || prev.SessionID != sessionID {
		return fmt.Errorf("cart line %d: %w", id, domain.ErrNotFound)
	}
	next := prev
	next.Quantity = qty
	next.UpdatedAt = s.now()
	s.lines[id] = next
	tx.undo = append(tx.undo, func() { s.lines[id] = prev })
	return nil
}

// DeleteLine removes the session's line id.
func (tx *Tx) DeleteLine(sessionID string, id int64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	s := tx.s
	prev, ok := s.lines[id]
	if !ok || prev.SessionID != sessionID {
		return fmt.Errorf("cart line %d: %w", id, domain.ErrNotFound)
	}
	delete(s.lines, id)
	tx.undo = append(tx.undo, func() { s.lines[id] = prev })
	return nil
}

func (tx *Tx) withProduct(l domain.CartLine) domain.CartLine {
	if p, ok := tx.s.products[l.ProductID]; ok {
		l.Product = &p
	} else {
		l.Product = nil
	}
	return l
}
