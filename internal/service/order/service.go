// Package order turns a session's reserved cart into an order. Stock was
// already taken from the ledger when items entered the cart, so checkout
// only moves the lines into an order and never touches stock.
package order

import (
	"context"
	"errors"
	"fmt"

	"checkout-engine/internal/cache"
	"checkout-engine/internal/coord"
	"checkout-engine/internal/domain"
	"checkout-engine/internal/events"
	orderrepo "checkout-engine/internal/repository/order"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const producerName = "order-service"

type cartReader interface {
	ListLines(ctx context.Context, sessionID string) ([]domain.CartLine, error)
}

type orderRepo interface {
	Commit(ctx context.Context, in orderrepo.CommitInput) (*domain.Order, error)
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}

// ItemRequest is a line the client believes is in its cart.
type ItemRequest struct {
	ProductID int64 `json:"productId"`
	Qty       int   `json:"qty"`
}

// CheckoutInput carries the checkout form. Items and TotalCents are optional
// cross-checks against the server cart.
type CheckoutInput struct {
	Customer       domain.CustomerInfo
	Items          []ItemRequest
	TotalCents     *int64
	IdempotencyKey string
}

type Deps struct {
	Orders      orderRepo
	Carts       cartReader
	Locks       *coord.Locks
	Cache       cache.CartCache
	Idempotency cache.IdempotencyStore
	Events      events.Publisher
	Logger      *zerolog.Logger
}

type Service struct {
	orders orderRepo
	carts  cartReader
	locks  *coord.Locks
	cache  cache.CartCache
	idem   cache.IdempotencyStore
	events events.Publisher
	logger zerolog.Logger
	newID  func() string
}

func New(d Deps) *Service {
	s := &Service{
		orders: d.Orders,
		carts:  d.Carts,
		locks:  d.Locks,
		cache:  d.Cache,
		idem:   d.Idempotency,
		events: d.Events,
		logger: zerolog.Nop(),
		newID:  uuid.NewString,
	}
	if s.locks == nil {
		s.locks = coord.NewLocks()
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	if s.idem == nil {
		s.idem = cache.Nop{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if d.Logger != nil {
		s.logger = d.Logger.With().Str("service", "order").Logger()
	}
	return s
}

// Checkout commits the session's cart as an order.
//
// The cart is validated and committed while the session and every referenced
// product are locked. Any failure leaves the cart, the reservations and the
// order table exactly as they were.
func (s *Service) Checkout(ctx context.Context, sessionID string, in CheckoutInput) (*domain.Order, error) {
	customer := in.Customer.Normalize()
	if err := customer.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	for _, it := range in.Items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("order item for product %d: %w", it.ProductID, domain.ErrInvalidQuantity)
		}
	}

	// Everything below runs under the session lock, so a second request with
	// the same idempotency key waits for the first and then replays it.
	unlockSession := s.locks.LockSession(sessionID)
	defer unlockSession()

	if in.IdempotencyKey != "" {
		if o, ok := s.replay(ctx, sessionID, in.IdempotencyKey); ok {
			return o, nil
		}
	}

	lines, err := s.carts.ListLines(ctx, sessionID)
	if err != nil {
		return nil, domain.Persistence("list cart", err)
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	unlockProducts := s.locks.LockProducts(domain.NewCart(sessionID, lines).ProductIDs())
	defer unlockProducts()

	// Lines cannot change under the session lock, but prices can until the
	// product locks are held. Read again so validation sees commit prices.
	lines, err = s.carts.ListLines(ctx, sessionID)
	if err != nil {
		return nil, domain.Persistence("list cart", err)
	}
	cart := domain.NewCart(sessionID, lines)
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	state := domain.CheckoutInitiated
	log := s.logger.With().Str("session_id", sessionID).Logger()

	if err := validate(cart, in); err != nil {
		state = s.transition(log, state, domain.CheckoutRejected)
		log.Info().Err(err).Str("state", string(state)).Msg("checkout rejected")
		return nil, err
	}
	state = s.transition(log, state, domain.CheckoutValidated)

	order, err := s.orders.Commit(ctx, orderrepo.CommitInput{
		SessionID:   sessionID,
		OrderNumber: s.newID(),
		Customer:    customer,
		Lines:       cart.Lines,
	})
	if err != nil {
		state = s.transition(log, state, domain.CheckoutRejected)
		log.Warn().Err(err).Str("state", string(state)).Msg("checkout commit failed")
		if errors.Is(err, domain.ErrRejected) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrPersistence) {
			return nil, err
		}
		return nil, domain.Persistence("commit order", err)
	}
	state = s.transition(log, state, domain.CheckoutCommitted)

	ctx = context.WithoutCancel(ctx)
	if err := s.cache.InvalidateCart(ctx, sessionID); err != nil {
		log.Warn().Err(err).Msg("cart cache invalidate")
	}
	if in.IdempotencyKey != "" {
		if err := s.idem.RememberOrder(ctx, sessionID, in.IdempotencyKey, order.ID); err != nil {
			log.Warn().Err(err).Str("idempotency_key", in.IdempotencyKey).Msg("remember order")
		}
	}
	s.publish(ctx, order)

	log.Info().
		Str("state", string(state)).
		Int64("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Int64("total_cents", order.OrderTotalCents).
		Int("items", len(order.Items)).
		Msg("order committed")
	return order, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.orders.GetByNumber(ctx, number)
}

// List returns every order, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Order, error) {
	return s.orders.List(ctx)
}

// ListForSession returns the orders placed by one session, newest first.
func (s *Service) ListForSession(ctx context.Context, sessionID string) ([]domain.Order, error) {
	all, err := s.orders.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0)
	for _, o := range all {
		if o.SessionID == sessionID {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetForSession hides orders of other sessions behind domain.ErrNotFound.
func (s *Service) GetForSession(ctx context.Context, sessionID string, id int64) (*domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.SessionID != sessionID {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

// validate checks the locked cart against the client's view of it.
func validate(cart *domain.Cart, in CheckoutInput) error {
	for _, l := range cart.Lines {
		if l.Product == nil {
			return &domain.RejectedError{Reason: "product no longer exists", ProductID: l.ProductID}
		}
	}

	if in.Items != nil {
		if len(in.Items) != len(cart.Lines) {
			return &domain.RejectedError{Reason: "cart changed"}
		}
		byProduct := make(map[int64]int, len(cart.Lines))
		for _, l := range cart.Lines {
			byProduct[l.ProductID] = l.Quantity
		}
		for _, it := range in.Items {
			qty, ok := byProduct[it.ProductID]
			if !ok || qty != it.Qty {
				return &domain.RejectedError{Reason: "cart changed", ProductID: it.ProductID}
			}
			delete(byProduct, it.ProductID)
		}
	}

	if in.TotalCents != nil && *in.TotalCents != cart.TotalCents {
		return &domain.RejectedError{Reason: fmt.Sprintf("order total mismatch: expected %d, got %d", cart.TotalCents, *in.TotalCents)}
	}
	return nil
}

func (s *Service) transition(log zerolog.Logger, from, to domain.CheckoutState) domain.CheckoutState {
	if !from.CanTransition(to) {
		log.Error().Str("from", string(from)).Str("to", string(to)).Msg("invalid checkout transition")
		return from
	}
	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("checkout transition")
	return to
}

// replay returns the order an idempotency key already produced for this
// session. Keys are scoped per session, and an order owned by another session
// is never handed out.
func (s *Service) replay(ctx context.Context, sessionID, key string) (*domain.Order, bool) {
	log := s.logger.With().Str("session_id", sessionID).Str("idempotency_key", key).Logger()
	id, ok, err := s.idem.LookupOrder(ctx, sessionID, key)
	if err != nil {
		log.Warn().Err(err).Msg("lookup idempotency key")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		log.Warn().Err(err).Int64("order_id", id).Msg("replay order")
		return nil, false
	}
	if o.SessionID != sessionID {
		log.Warn().Int64("order_id", id).Msg("idempotency key bound to another session")
		return nil, false
	}
	log.Info().Int64("order_id", id).Msg("checkout replayed")
	return o, true
}

func (s *Service) publish(ctx context.Context, o *domain.Order) {
	items := make([]events.ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, events.ItemQty{ProductID: it.ProductID, Qty: it.Qty, PriceCents: it.ItemPriceCents})
	}
	env, err := events.New(events.TypeOrderCommitted, producerName, o.OrderNumber, events.OrderCommitted{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		TotalCents:  o.OrderTotalCents,
		Items:       items,
	})
	if err == nil {
		err = s.events.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Warn().Err(err).Int64("order_id", o.ID).Msg("publish order committed")
	}
}
