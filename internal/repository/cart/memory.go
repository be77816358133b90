package cart

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

func (r *memoryRepo) ListLines(_ context.Context, sessionID string) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	err := r.store.View(func(tx *memdb.Tx) error {
		lines = tx.Lines(sessionID)
		return nil
	})
	return lines, err
}

func (r *memoryRepo) GetLine(_ context.Context, sessionID string, lineID int64) (*domain.CartLine, error) {
	return r.getOne(func(tx *memdb.Tx) (domain.CartLine, error) { return tx.Line(sessionID, lineID) })
}

func (r *memoryRepo) GetLineByProduct(_ context.Context, sessionID string, productID int64) (*domain.CartLine, error) {
	return r.getOne(func(tx *memdb.Tx) (domain.CartLine, error) { return tx.LineByProduct(sessionID, productID) })
}

func (r *memoryRepo) InsertLine(_ context.Context, sessionID string, productID int64, quantity int) (*domain.CartLine, error) {
	var line domain.CartLine
	err := r.store.Update(func(tx *memdb.Tx) error {
		var err error
		line, err = tx.InsertLine(sessionID, productID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *memoryRepo) SetQuantity(_ context.Context, sessionID string, lineID int64, quantity int) error {
	return r.store.Update(func(tx *memdb.Tx) error {
		return tx.SetLineQuantity(sessionID, lineID, quantity)
	})
}

func (r *memoryRepo) DeleteLine(_ context.Context, sessionID string, lineID int64) error {
	return r.store.Update(func(tx *memdb.Tx) error {
		return tx.DeleteLine(sessionID, lineID)
	})
}

func (r *memoryRepo) SessionsWithProduct(_ context.Context, productID int64) ([]string, error) {
	var sessions []string
	err := r.store.View(func(tx *memdb.Tx) error {
		sessions = tx.SessionsHoldingProduct(productID)
		return nil
	})
	return sessions, err
}

func (r *memoryRepo) getOne(get func(tx *memdb.Tx) (domain.CartLine, error)) (*domain.CartLine, error) {
	var line domain.CartLine
	err := r.store.View(func(tx *memdb.Tx) error {
		var err error
		line, err = get(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}
