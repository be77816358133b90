package product

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"checkout-engine/internal/cache"
	"checkout-engine/internal/coord"
	"checkout-engine/internal/domain"
	"checkout-engine/internal/events"
	productrepo "checkout-engine/internal/repository/product"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const producerName = "catalog-service"

type cartHolders interface {
	SessionsWithProduct(ctx context.Context, productID int64) ([]string, error)
}

type Service struct {
	repo    productrepo.Repository
	locks   *coord.Locks
	events  events.Publisher
	holders cartHolders
	cache   cache.CartCache
	logger  zerolog.Logger
}

// New builds the catalog service. locks must be the set shared with the
// ledger so catalog writes never interleave with a reservation.
func New(repo productrepo.Repository, locks *coord.Locks, pub events.Publisher, logger *zerolog.Logger) *Service {
	s := &Service{repo: repo, locks: locks, events: pub, cache: cache.Nop{}, logger: zerolog.Nop()}
	if s.locks == nil {
		s.locks = coord.NewLocks()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if logger != nil {
		s.logger = logger.With().Str("service", "product").Logger()
	}
	return s
}

// WithCartCache makes Update drop the cached carts of every session holding
// an updated product, so cached totals never show a stale price.
func (s *Service) WithCartCache(holders cartHolders, c cache.CartCache) *Service {
	s.holders = holders
	if c != nil {
		s.cache = c
	}
	return s
}

func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Product, error) {
	return s.repo.GetByID(ctx, id)
}

// CreateBulk validates and inserts products. Keys are generated when empty.
func (s *Service) CreateBulk(ctx context.Context, products []domain.Product) ([]domain.Product, error) {
	if len(products) == 0 {
		return nil, fmt.Errorf("no products given: %w", domain.ErrInvalidInput)
	}
	for i := range products {
		p := &products[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Key = strings.TrimSpace(p.Key)
		if err := validate(*p); err != nil {
			return nil, fmt.Errorf("product %d: %w", i, err)
		}
		if p.Key == "" {
			p.Key = "prod-" + uuid.NewString()[:8]
		}
	}

	created, err := s.repo.CreateBulk(ctx, products)
	if err != nil {
		return nil, err
	}
	for _, p := range created {
		s.stockChanged(ctx, p, p.AvailableStock, "catalog.create")
	}
	s.logger.Info().Int("count", len(created)).Msg("products created")
	return created, nil
}

// Update changes name, description or price. Stock stays with the ledger.
func (s *Service) Update(ctx context.Context, id int64, in productrepo.UpdateInput) (*domain.Product, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("name required: %w", domain.ErrInvalidInput)
		}
		in.Name = &name
	}
	if in.PriceCents != nil && *in.PriceCents < 0 {
		return nil, fmt.Errorf("price must not be negative: %w", domain.ErrInvalidInput)
	}

	unlock := s.locks.LockProducts([]int64{id})
	defer unlock()
	p, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return nil, err
	}
	s.invalidateCarts(ctx, id)
	s.logger.Info().Int64("product_id", id).Msg("product updated")
	return p, nil
}

func (s *Service) invalidateCarts(ctx context.Context, productID int64) {
	if s.holders == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	sessions, err := s.holders.SessionsWithProduct(ctx, productID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("product_id", productID).Msg("find carts holding product")
		return
	}
	for _, sessionID := range sessions {
		if err := s.cache.InvalidateCart(ctx, sessionID); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cart cache invalidate")
		}
	}
}

// Delete removes a product. It fails with domain.ErrProductInUse while any
// cart still holds it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	unlock := s.locks.LockProducts([]int64{id})
	defer unlock()
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Int64("product_id", id).Msg("product deleted")
	return nil
}

func validate(p domain.Product) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("name required: %w", domain.ErrInvalidInput)
	case p.PriceCents < 0:
		return fmt.Errorf("price must not be negative: %w", domain.ErrInvalidInput)
	case p.AvailableStock < 0:
		return fmt.Errorf("stock must not be negative: %w", domain.ErrInvalidInput)
	}
	return nil
}

func (s *Service) stockChanged(ctx context.Context, p domain.Product, delta int, reason string) {
	env, err := events.New(events.TypeStockChanged, producerName, strconv.FormatInt(p.ID, 10), events.StockChanged{
		ProductID: p.ID,
		Available: p.AvailableStock,
		Delta:     delta,
		Reason:    reason,
	})
	if err == nil {
		err = s.events.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Warn().Err(err).Int64("product_id", p.ID).Msg("publish stock change")
	}
}
