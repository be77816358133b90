package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"checkout-engine/internal/cache"
	"checkout-engine/internal/config"
	"checkout-engine/internal/coord"
	"checkout-engine/internal/db"
	"checkout-engine/internal/events"
	"checkout-engine/internal/httpserver"
	"checkout-engine/internal/ledger"
	"checkout-engine/internal/logging"
	"checkout-engine/internal/memdb"
	"checkout-engine/internal/migrate"
	"checkout-engine/internal/realtime"
	cartrepo "checkout-engine/internal/repository/cart"
	orderrepo "checkout-engine/internal/repository/order"
	productrepo "checkout-engine/internal/repository/product"
	"checkout-engine/internal/seed"
	cartsvc "checkout-engine/internal/service/cart"
	ordersvc "checkout-engine/internal/service/order"
	productsvc "checkout-engine/internal/service/product"
	"checkout-engine/internal/service/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, &logger); err != nil {
		logger.Fatal().Err(err).Msg("api stopped")
	}
	logger.Info().Msg("api stopped")
}

// stores is one storage backend with the ledger that owns its stock column.
type stores struct {
	products productrepo.Repository
	carts    cartrepo.Repository
	orders   orderrepo.Repository
	ledger   ledger.Ledger
	ready    []httpserver.ReadyCheck
	close    func()
}

func run(ctx context.Context, cfg config.Config, logger *zerolog.Logger) error {
	locks := coord.NewLocks()

	st, err := openStores(ctx, cfg, locks, logger)
	if err != nil {
		return err
	}
	defer st.close()

	var (
		cartCache cache.CartCache        = cache.Nop{}
		idem      cache.IdempotencyStore = cache.Nop{}
	)
	if cfg.RedisAddr != "" {
		client := cache.NewClient(cfg.RedisAddr)
		defer client.Close()
		rc := cache.NewRedis(client, cfg.CartCacheTTL, cfg.IdempotencyTTL)
		cartCache, idem = rc, rc
		st.ready = append(st.ready, httpserver.ReadyCheck{Name: "redis", Check: rc.Ping})
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis cache enabled")
	}

	hub := realtime.NewHub(logger)
	publishers := events.Fanout{hub}
	var producer *events.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewKafkaProducer(cfg.KafkaBrokers, events.Topics{
			Stock:  cfg.KafkaStockTopic,
			Orders: cfg.KafkaOrderTopic,
		}, 1024, logger)
		publishers = append(publishers, producer)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Msg("kafka events enabled")
	}

	srv := httpserver.New(cfg.HTTPAddr, httpserver.Deps{
		Logger: logger,
		Carts: cartsvc.New(cartsvc.Deps{
			Repo:   st.carts,
			Ledger: st.ledger,
			Locks:  locks,
			Cache:  cartCache,
			Events: publishers,
			Logger: logger,
		}),
		Orders: ordersvc.New(ordersvc.Deps{
			Orders:      st.orders,
			Carts:       st.carts,
			Locks:       locks,
			Cache:       cartCache,
			Idempotency: idem,
			Events:      publishers,
			Logger:      logger,
		}),
		Products:    productsvc.New(st.products, locks, publishers, logger).WithCartCache(st.carts, cartCache),
		Sessions:    session.New(),
		Hub:         hub,
		Ready:       st.ready,
		CORSOrigins: cfg.CORSOrigins,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if producer != nil {
		g.Go(func() error { return producer.Run(gctx) })
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, locks *coord.Locks, logger *zerolog.Logger) (*stores, error) {
	if cfg.StoreBackend == config.BackendMemory {
		store := memdb.New()
		st := &stores{
			products: productrepo.NewMemory(store),
			carts:    cartrepo.NewMemory(store),
			orders:   orderrepo.NewMemory(store),
			ledger:   ledger.NewMemory(store, locks.Products, logger),
			close:    func() {},
		}
		n, err := seed.Apply(ctx, st.products)
		if err != nil {
			return nil, fmt.Errorf("seed memory store: %w", err)
		}
		logger.Warn().Int("products", n).Msg("using in-memory store, data is lost on exit")
		return st, nil
	}

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := migrate.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	policy := coord.RetryPolicy{
		MaxAttempts: cfg.LedgerMaxAttempts,
		BaseBackoff: cfg.LedgerBaseBackoff,
		MaxBackoff:  cfg.LedgerMaxBackoff,
	}
	return &stores{
		products: productrepo.NewPostgres(pool, logger),
		carts:    cartrepo.NewPostgres(pool, logger),
		orders:   orderrepo.NewPostgres(pool, logger),
		ledger:   ledger.NewPostgres(pool, policy, logger),
		ready:    []httpserver.ReadyCheck{{Name: "db", Check: pool.Ping}},
		close:    pool.Close,
	}, nil
}
