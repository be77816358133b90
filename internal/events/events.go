// Package events defines the change notifications the engine emits and the
// publishers that deliver them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeStockChanged   = "StockChanged"
	TypeOrderCommitted = "OrderCommitted"
)

// Envelope wraps every event payload.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// StockChanged is emitted after every successful ledger mutation.
type StockChanged struct {
	ProductID int64  `json:"product_id"`
	Available int    `json:"available"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
}

// ItemQty is one committed order line.
type ItemQty struct {
	ProductID  int64 `json:"product_id"`
	Qty        int   `json:"qty"`
	PriceCents int64 `json:"price_cents"`
}

// OrderCommitted is emitted once an order transaction has committed.
type OrderCommitted struct {
	OrderID     int64     `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	TotalCents  int64     `json:"total_cents"`
	Items       []ItemQty `json:"items"`
}

// New wraps payload in an Envelope with a fresh id.
func New(eventType, producer, correlationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Decode unmarshals the payload of env into T.
func Decode[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// Publisher delivers envelopes. Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Fanout publishes to every member and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every envelope.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
