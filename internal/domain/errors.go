package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a reservation larger than the available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates a concurrent modification that could not be resolved by retrying.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrEmptyCart is returned when checking out a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrPersistence wraps storage failures that aborted an operation.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrRejected marks a checkout refused during validation.
	ErrRejected = errors.New("checkout rejected")
	// ErrInvalidInput marks a request that failed field validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProductInUse is returned when deleting a product still held in carts.
	ErrProductInUse = errors.New("product is referenced by cart lines")
)

// StockError reports a reservation that exceeded the available stock.
type StockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// LineError ties a failure to the cart line being processed.
type LineError struct {
	LineID    int64
	ProductID int64
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("cart line %d (product %d): %v", e.LineID, e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// RejectedError explains why a checkout did not pass validation.
type RejectedError struct {
	Reason    string
	ProductID int64
}

func (e *RejectedError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("checkout rejected: %s (product %d)", e.Reason, e.ProductID)
	}
	return "checkout rejected: " + e.Reason
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Persistence wraps err so callers can match ErrPersistence while keeping the cause.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
