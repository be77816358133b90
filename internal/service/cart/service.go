package cart

import (
	"context"
	"errors"
	"strconv"

	"checkout-engine/internal/cache"
	"checkout-engine/internal/coord"
	"checkout-engine/internal/domain"
	"checkout-engine/internal/events"
	"checkout-engine/internal/ledger"
	"github.com/rs/zerolog"
)

const producerName = "cart-service"

type cartRepo interface {
	ListLines(ctx context.Context, sessionID string) ([]domain.CartLine, error)
	GetLine(ctx context.Context, sessionID string, lineID int64) (*domain.CartLine, error)
	GetLineByProduct(ctx context.Context, sessionID string, productID int64) (*domain.CartLine, error)
	InsertLine(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.CartLine, error)
	SetQuantity(ctx context.Context, sessionID string, lineID int64, quantity int) error
	DeleteLine(ctx context.Context, sessionID string, lineID int64) error
}

type stockLedger interface {
	Reserve(ctx context.Context, productID int64, delta int) (ledger.Level, error)
	Release(ctx context.Context, productID int64, delta int) (ledger.Level, error)
	AdjustTo(ctx context.Context, productID int64, target, expectedCurrent int) (ledger.Level, error)
}

// Deps wires a Service. Cache, Events and Logger are optional.
type Deps struct {
	Repo   cartRepo
	Ledger stockLedger
	Locks  *coord.Locks
	Cache  cache.CartCache
	Events events.Publisher
	Logger *zerolog.Logger
}

// Service keeps every cart line paired with a ledger reservation of the same
// quantity. Operations on one session run one at a time.
type Service struct {
	repo   cartRepo
	ledger stockLedger
	locks  *coord.Locks
	cache  cache.CartCache
	events events.Publisher
	logger zerolog.Logger
}

func New(d Deps) *Service {
	s := &Service{
		repo:   d.Repo,
		ledger: d.Ledger,
		locks:  d.Locks,
		cache:  d.Cache,
		events: d.Events,
		logger: zerolog.Nop(),
	}
	if s.locks == nil {
		s.locks = coord.NewLocks()
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if d.Logger != nil {
		s.logger = d.Logger.With().Str("service", "cart").Logger()
	}
	return s
}

// Get returns the session's cart, served from the cache when present.
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.Cart, error) {
	if c, ok, err := s.cache.GetCart(ctx, sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cart cache read")
	} else if ok {
		return c, nil
	}

	unlock := s.locks.LockSession(sessionID)
	defer unlock()
	c, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetCart(ctx, c); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cart cache write")
	}
	return c, nil
}

// Add reserves quantity units of productID and adds them to the session's
// line for that product. On *domain.StockError the cart is unchanged and the
// error carries the stock still available.
func (s *Service) Add(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	unlock := s.locks.LockSession(sessionID)
	defer unlock()
	defer s.invalidate(ctx, sessionID)

	lvl, err := s.ledger.Reserve(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}
	s.stockChanged(ctx, lvl, -quantity, "cart.add")

	line, err := s.repo.GetLineByProduct(ctx, sessionID, productID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		_, err = s.repo.InsertLine(ctx, sessionID, productID, quantity)
	case err == nil:
		err = s.repo.SetQuantity(ctx, sessionID, line.ID, line.Quantity+quantity)
	}
	if err != nil {
		s.compensate(ctx, "release", productID, quantity, func(ctx context.Context) (ledger.Level, error) {
			return s.ledger.Release(ctx, productID, quantity)
		})
		return nil, storeErr("add line", err)
	}

	s.logger.Info().Str("session_id", sessionID).Int64("product_id", productID).Int("quantity", quantity).Int("available", lvl.Available).Msg("added to cart")
	return s.load(ctx, sessionID)
}

// UpdateQuantity sets a line to newQuantity, reserving or releasing the
// difference. On failure the line keeps its previous quantity.
func (s *Service) UpdateQuantity(ctx context.Context, sessionID string, lineID int64, newQuantity int) (*domain.Cart, error) {
	if newQuantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	unlock := s.locks.LockSession(sessionID)
	defer unlock()

	line, err := s.repo.GetLine(ctx, sessionID, lineID)
	if err != nil {
		return nil, storeErr("get line", err)
	}
	if line.Quantity == newQuantity {
		return s.load(ctx, sessionID)
	}
	defer s.invalidate(ctx, sessionID)

	lvl, err := s.ledger.AdjustTo(ctx, line.ProductID, newQuantity, line.Quantity)
	if err != nil {
		return nil, err
	}
	s.stockChanged(ctx, lvl, line.Quantity-newQuantity, "cart.update")

	if err := s.repo.SetQuantity(ctx, sessionID, line.ID, newQuantity); err != nil {
		s.compensate(ctx, "adjust back", line.ProductID, line.Quantity, func(ctx context.Context) (ledger.Level, error) {
			return s.ledger.AdjustTo(ctx, line.ProductID, line.Quantity, newQuantity)
		})
		return nil, storeErr("update line", err)
	}

	s.logger.Info().Str("session_id", sessionID).Int64("line_id", lineID).Int("from", line.Quantity).Int("to", newQuantity).Msg("cart line updated")
	return s.load(ctx, sessionID)
}

// Remove releases quantity units of a line. Zero, or a quantity not smaller
// than the line's, removes the whole line; a negative quantity is rejected.
func (s *Service) Remove(ctx context.Context, sessionID string, lineID int64, quantity int) (*domain.Cart, error) {
	if quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}
	unlock := s.locks.LockSession(sessionID)
	defer unlock()

	line, err := s.repo.GetLine(ctx, sessionID, lineID)
	if err != nil {
		return nil, storeErr("get line", err)
	}
	defer s.invalidate(ctx, sessionID)

	if quantity == 0 || quantity >= line.Quantity {
		if err := s.dropLine(ctx, sessionID, *line); err != nil {
			return nil, err
		}
		s.logger.Info().Str("session_id", sessionID).Int64("line_id", lineID).Msg("cart line removed")
		return s.load(ctx, sessionID)
	}

	lvl, err := s.ledger.Release(ctx, line.ProductID, quantity)
	if err != nil {
		return nil, err
	}
	s.stockChanged(ctx, lvl, quantity, "cart.remove")
	if err := s.repo.SetQuantity(ctx, sessionID, line.ID, line.Quantity-quantity); err != nil {
		s.compensate(ctx, "reserve back", line.ProductID, quantity, func(ctx context.Context) (ledger.Level, error) {
			return s.ledger.Reserve(ctx, line.ProductID, quantity)
		})
		return nil, storeErr("update line", err)
	}
	s.logger.Info().Str("session_id", sessionID).Int64("line_id", lineID).Int("released", quantity).Msg("cart line reduced")
	return s.load(ctx, sessionID)
}

// Clear releases and deletes every line. The first line that cannot be
// processed aborts the operation with a *domain.LineError; lines handled
// before it stay removed.
func (s *Service) Clear(ctx context.Context, sessionID string) (*domain.Cart, error) {
	unlock := s.locks.LockSession(sessionID)
	defer unlock()
	defer s.invalidate(ctx, sessionID)

	lines, err := s.repo.ListLines(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list lines", err)
	}
	for _, line := range lines {
		if err := s.dropLine(ctx, sessionID, line); err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Int64("line_id", line.ID).Msg("clear aborted")
			return nil, &domain.LineError{LineID: line.ID, ProductID: line.ProductID, Err: err}
		}
	}
	s.logger.Info().Str("session_id", sessionID).Int("lines", len(lines)).Msg("cart cleared")
	return s.load(ctx, sessionID)
}

// dropLine releases a whole line and deletes it. A product that no longer
// exists has nothing to release, so the line is deleted alone.
func (s *Service) dropLine(ctx context.Context, sessionID string, line domain.CartLine) error {
	released := true
	lvl, err := s.ledger.Release(ctx, line.ProductID, line.Quantity)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		released = false
		s.logger.Warn().Str("session_id", sessionID).Int64("product_id", line.ProductID).Int64("line_id", line.ID).Msg("product gone, dropping line without release")
	case err != nil:
		return err
	default:
		s.stockChanged(ctx, lvl, line.Quantity, "cart.remove")
	}

	if err := s.repo.DeleteLine(ctx, sessionID, line.ID); err != nil {
		if released {
			s.compensate(ctx, "reserve back", line.ProductID, line.Quantity, func(ctx context.Context) (ledger.Level, error) {
				return s.ledger.Reserve(ctx, line.ProductID, line.Quantity)
			})
		}
		return storeErr("delete line", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	lines, err := s.repo.ListLines(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list lines", err)
	}
	return domain.NewCart(sessionID, lines), nil
}

// compensate undoes a ledger operation whose paired line write failed. It
// runs even when ctx is already cancelled.
func (s *Service) compensate(ctx context.Context, action string, productID int64, qty int, undo func(context.Context) (ledger.Level, error)) {
	ctx = context.WithoutCancel(ctx)
	lvl, err := undo(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("action", action).Int64("product_id", productID).Int("quantity", qty).Msg("ledger compensation failed")
		return
	}
	s.logger.Warn().Str("action", action).Int64("product_id", productID).Int("quantity", qty).Msg("ledger compensated")
	s.stockChanged(ctx, lvl, 0, "cart.compensate")
}

func (s *Service) invalidate(ctx context.Context, sessionID string) {
	if err := s.cache.InvalidateCart(context.WithoutCancel(ctx), sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cart cache invalidate")
	}
}

func (s *Service) stockChanged(ctx context.Context, lvl ledger.Level, delta int, reason string) {
	env, err := events.New(events.TypeStockChanged, producerName, strconv.FormatInt(lvl.ProductID, 10), events.StockChanged{
		ProductID: lvl.ProductID,
		Available: lvl.Available,
		Delta:     delta,
		Reason:    reason,
	})
	if err == nil {
		err = s.events.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Warn().Err(err).Int64("product_id", lvl.ProductID).Msg("publish stock change")
	}
}

// storeErr keeps domain errors and marks everything else as a persistence failure.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
		return err
	}
	return domain.Persistence(op, err)
}
