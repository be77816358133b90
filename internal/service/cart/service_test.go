package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"checkout-engine/internal/coord"
	"checkout-engine/internal/domain"
	"checkout-engine/internal/events"
	"checkout-engine/internal/ledger"
	"checkout-engine/internal/memdb"
	cartrepo "checkout-engine/internal/repository/cart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memdb.Store
	ledger   *ledger.Memory
	repo     cartrepo.Repository
	svc      *Service
	cache    *stubCache
	events   *recordingPublisher
	physical map[int64]int
}

func newFixture(t *testing.T, stock ...int) (*fixture, []int64) {
	t.Helper()
	store := memdb.New()
	ids := make([]int64, 0, len(stock))
	physical := map[int64]int{}
	require.NoError(t, store.Update(func(tx *memdb.Tx) error {
		for i, s := range stock {
			p, err := tx.PutProduct(domain.Product{Name: "product", PriceCents: int64(1000 * (i + 1)), AvailableStock: s})
			if err != nil {
				return err
			}
			ids = append(ids, p.ID)
			physical[p.ID] = s
		}
		return nil
	}))
	locks := coord.NewLocks()
	f := &fixture{
		store:    store,
		ledger:   ledger.NewMemory(store, locks.Products, nil),
		repo:     cartrepo.NewMemory(store),
		cache:    &stubCache{},
		events:   &recordingPublisher{},
		physical: physical,
	}
	f.svc = New(Deps{Repo: f.repo, Ledger: f.ledger, Locks: locks, Cache: f.cache, Events: f.events})
	return f, ids
}

// assertConserved checks available + reserved == physical for every product.
func (f *fixture) assertConserved(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.View(func(tx *memdb.Tx) error {
		reserved := map[int64]int{}
		for _, p := range tx.Products() {
			assert.GreaterOrEqual(t, p.AvailableStock, 0)
			reserved[p.ID] += p.AvailableStock
		}
		for _, session := range []string{"s1", "s2", "s3"} {
			for _, l := range tx.Lines(session) {
				reserved[l.ProductID] += l.Quantity
			}
		}
		for id, want := range f.physical {
			assert.Equal(t, want, reserved[id], "conservation for product %d", id)
		}
		return nil
	}))
}

func (f *fixture) available(t *testing.T, id int64) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.View(func(tx *memdb.Tx) error {
		p, err := tx.Product(id)
		n = p.AvailableStock
		return err
	}))
	return n
}

type stubCache struct {
	mu          sync.Mutex
	carts       map[string]*domain.Cart
	invalidated []string
}

func (c *stubCache) GetCart(_ context.Context, session string) (*domain.Cart, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[session]
	return cart, ok, nil
}

func (c *stubCache) SetCart(_ context.Context, cart *domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.carts == nil {
		c.carts = map[string]*domain.Cart{}
	}
	c.carts[cart.SessionID] = cart
	return nil
}

func (c *stubCache) InvalidateCart(_ context.Context, session string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, session)
	c.invalidated = append(c.invalidated, session)
	return nil
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []events.Envelope
}

func (r *recordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, env)
	return nil
}

// failingRepo fails the chosen write once.
type failingRepo struct {
	cartrepo.Repository
	failInsert, failSet, failDelete bool
}

var errWrite = errors.New("write failed")

func (r *failingRepo) InsertLine(ctx context.Context, s string, p int64, q int) (*domain.CartLine, error) {
	if r.failInsert {
		return nil, errWrite
	}
	return r.Repository.InsertLine(ctx, s, p, q)
}

func (r *failingRepo) SetQuantity(ctx context.Context, s string, id int64, q int) error {
	if r.failSet {
		return errWrite
	}
	return r.Repository.SetQuantity(ctx, s, id, q)
}

func (r *failingRepo) DeleteLine(ctx context.Context, s string, id int64) error {
	if r.failDelete {
		return errWrite
	}
	return r.Repository.DeleteLine(ctx, s, id)
}

func TestAddReservesStock(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 3)

	cart, err := f.svc.Add(ctx, "s1", ids[0], 2)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 2, cart.Lines[0].Quantity)
	assert.Equal(t, int64(2000), cart.TotalCents)
	assert.Equal(t, 1, f.available(t, ids[0]))

	cart, err = f.svc.Add(ctx, "s1", ids[0], 1)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1, "adding the same product increments the line")
	assert.Equal(t, 3, cart.Lines[0].Quantity)
	assert.Equal(t, 0, f.available(t, ids[0]))
	f.assertConserved(t)

	require.Len(t, f.events.got, 2)
	payload, err := events.Decode[events.StockChanged](f.events.got[1])
	require.NoError(t, err)
	assert.Equal(t, 0, payload.Available)
	assert.Equal(t, -1, payload.Delta)
}

func TestAddBeyondStockLeavesCartUnchanged(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 2)

	_, err := f.svc.Add(ctx, "s1", ids[0], 1)
	require.NoError(t, err)

	_, err = f.svc.Add(ctx, "s1", ids[0], 2)
	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, ids[0], stockErr.ProductID)

	cart, err := f.svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, cart.Lines[0].Quantity)
	assert.Equal(t, 1, f.available(t, ids[0]))
	f.assertConserved(t)
}

func TestAddUnknownProduct(t *testing.T) {
	f, _ := newFixture(t, 1)
	_, err := f.svc.Add(context.Background(), "s1", 999, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddRejectsNonPositiveQuantity(t *testing.T) {
	f, ids := newFixture(t, 1)
	_, err := f.svc.Add(context.Background(), "s1", ids[0], 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

// Two sessions race for the last unit: exactly one wins.
func TestConcurrentAddLastUnit(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 1)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i, session := range []string{"s1", "s2"} {
		wg.Add(1)
		go func(i int, session string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Add(ctx, session, ids[0], 1)
		}(i, session)
	}
	close(start)
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)
	assert.Equal(t, 0, f.available(t, ids[0]))
	f.assertConserved(t)
}

func TestConcurrentMixedOperationsConserveStock(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 10, 4)

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := []string{"s1", "s2", "s3"}[i%3]
			product := ids[i%2]
			switch i % 4 {
			case 0, 1:
				_, _ = f.svc.Add(ctx, session, product, 1+i%3)
			case 2:
				cart, err := f.svc.Get(ctx, session)
				if err == nil && len(cart.Lines) > 0 {
					_, _ = f.svc.Remove(ctx, session, cart.Lines[0].ID, 1)
				}
			case 3:
				cart, err := f.svc.Get(ctx, session)
				if err == nil && len(cart.Lines) > 0 {
					_, _ = f.svc.UpdateQuantity(ctx, session, cart.Lines[0].ID, 2)
				}
			}
		}(i)
	}
	wg.Wait()
	f.assertConserved(t)
}

func TestUpdateQuantity(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5)

	cart, err := f.svc.Add(ctx, "s1", ids[0], 2)
	require.NoError(t, err)
	lineID := cart.Lines[0].ID

	cart, err = f.svc.UpdateQuantity(ctx, "s1", lineID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Lines[0].Quantity)
	assert.Equal(t, 1, f.available(t, ids[0]))

	_, err = f.svc.UpdateQuantity(ctx, "s1", lineID, 7)
	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)

	cart, err = f.svc.UpdateQuantity(ctx, "s1", lineID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cart.Lines[0].Quantity)
	assert.Equal(t, 4, f.available(t, ids[0]))

	_, err = f.svc.UpdateQuantity(ctx, "s1", lineID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = f.svc.UpdateQuantity(ctx, "s2", lineID, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound, "lines are scoped to their session")
	f.assertConserved(t)
}

func TestRemovePartialAndFull(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5)

	cart, err := f.svc.Add(ctx, "s1", ids[0], 3)
	require.NoError(t, err)
	lineID := cart.Lines[0].ID

	cart, err = f.svc.Remove(ctx, "s1", lineID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, cart.Lines[0].Quantity)
	assert.Equal(t, 3, f.available(t, ids[0]))

	_, err = f.svc.Remove(ctx, "s1", lineID, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	cart, err = f.svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, cart.Lines[0].Quantity)
	assert.Equal(t, 3, f.available(t, ids[0]))

	cart, err = f.svc.Remove(ctx, "s1", lineID, 0)
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)
	assert.Equal(t, 5, f.available(t, ids[0]))

	_, err = f.svc.Remove(ctx, "s1", lineID, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	f.assertConserved(t)
}

func TestClearReleasesEverything(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5, 5)

	_, err := f.svc.Add(ctx, "s1", ids[0], 2)
	require.NoError(t, err)
	_, err = f.svc.Add(ctx, "s1", ids[1], 3)
	require.NoError(t, err)

	cart, err := f.svc.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, 5, f.available(t, ids[0]))
	assert.Equal(t, 5, f.available(t, ids[1]))
	f.assertConserved(t)
}

func TestClearDropsLinesOfDeletedProducts(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5, 5)

	_, err := f.svc.Add(ctx, "s1", ids[0], 2)
	require.NoError(t, err)
	_, err = f.svc.Add(ctx, "s1", ids[1], 1)
	require.NoError(t, err)

	// Delete the product out-of-band, bypassing the in-use check.
	require.NoError(t, f.store.Update(func(tx *memdb.Tx) error { return tx.DeleteProduct(ids[0]) }))
	delete(f.physical, ids[0])

	cart, err := f.svc.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, 5, f.available(t, ids[1]))
}

func TestClearReportsFailingLine(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5)
	_, err := f.svc.Add(ctx, "s1", ids[0], 2)
	require.NoError(t, err)

	f.svc.repo = &failingRepo{Repository: f.repo, failDelete: true}
	_, err = f.svc.Clear(ctx, "s1")
	var lineErr *domain.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, ids[0], lineErr.ProductID)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	// The release was compensated, so the reservation still backs the line.
	assert.Equal(t, 3, f.available(t, ids[0]))
	f.assertConserved(t)
}

func TestAddCompensatesWhenLineWriteFails(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5)
	f.svc.repo = &failingRepo{Repository: f.repo, failInsert: true}

	_, err := f.svc.Add(ctx, "s1", ids[0], 2)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 5, f.available(t, ids[0]))
	f.assertConserved(t)
}

func TestUpdateCompensatesWhenLineWriteFails(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5)
	cart, err := f.svc.Add(ctx, "s1", ids[0], 1)
	require.NoError(t, err)

	f.svc.repo = &failingRepo{Repository: f.repo, failSet: true}
	_, err = f.svc.UpdateQuantity(ctx, "s1", cart.Lines[0].ID, 4)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 4, f.available(t, ids[0]))
	f.assertConserved(t)
}

func TestGetUsesCacheAndMutationsInvalidate(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5)

	_, err := f.svc.Get(ctx, "s1")
	require.NoError(t, err)
	_, cached, _ := f.cache.GetCart(ctx, "s1")
	require.True(t, cached)

	_, err = f.svc.Add(ctx, "s1", ids[0], 1)
	require.NoError(t, err)
	_, cached, _ = f.cache.GetCart(ctx, "s1")
	assert.False(t, cached, "mutation must invalidate the cached snapshot")
	assert.Contains(t, f.cache.invalidated, "s1")

	cart, err := f.svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
}

func TestScenarioUpdateToExactStockThenBeyond(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5)

	cart, err := f.svc.Add(ctx, "s1", ids[0], 3)
	require.NoError(t, err)
	assert.Equal(t, 2, f.available(t, ids[0]))
	lineID := cart.Lines[0].ID

	_, err = f.svc.UpdateQuantity(ctx, "s1", lineID, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, ids[0]))

	_, err = f.svc.UpdateQuantity(ctx, "s1", lineID, 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 0, f.available(t, ids[0]))

	cart, err = f.svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, cart.Lines[0].Quantity)
	f.assertConserved(t)
}

func TestScenarioPartialRemove(t *testing.T) {
	ctx := context.Background()
	f, ids := newFixture(t, 5)

	cart, err := f.svc.Add(ctx, "s1", ids[0], 3)
	require.NoError(t, err)
	assert.Equal(t, 2, f.available(t, ids[0]))

	cart, err = f.svc.Remove(ctx, "s1", cart.Lines[0].ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, f.available(t, ids[0]))
	assert.Equal(t, 1, cart.Lines[0].Quantity)
}
