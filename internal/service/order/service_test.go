package order

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
	orderrepo "checkout-engine/internal/repository/order"
	cartsvc "checkout-engine/internal/service/cart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customer = domain.CustomerInfo{
	FirstName: "Ada",
	LastName:  "Lovelace",
	Address:   "12 Analytical Row",
	Postcode:  "10115",
	City:      "Berlin",
	Email:     "ada@example.com",
	Phone:     "+49 30 1234",
}

type fixture struct {
	store  *memdb.Store
	carts  *cartsvc.Service
	orders orderrepo.Repository
	lines  cartReader
	svc    *Service
	idem   *memoryIdem
	events *recordingPublisher
	ids    []int64
}

// newFixture seeds one product per price with stock 10.
func newFixture(t *testing.T, prices ...int64) *fixture {
	t.Helper()
	store := memdb.New()
	f := &fixture{store: store, idem: &memoryIdem{}, events: &recordingPublisher{}}
	require.NoError(t, store.Update(func(tx *memdb.Tx) error {
		for _, price := range prices {
			p, err := tx.PutProduct(domain.Product{Name: "product", PriceCents: price, AvailableStock: 10})
			if err != nil {
				return err
			}
			f.ids = append(f.ids, p.ID)
		}
		return nil
	}))

	locks := coord.NewLocks()
	lines := cartrepo.NewMemory(store)
	f.carts = cartsvc.New(cartsvc.Deps{
		Repo:   lines,
		Ledger: ledger.NewMemory(store, locks.Products, nil),
		Locks:  locks,
	})
	f.orders = orderrepo.NewMemory(store)
	f.lines = lines
	f.svc = New(Deps{
		Orders:      f.orders,
		Carts:       lines,
		Locks:       locks,
		Idempotency: f.idem,
		Events:      f.events,
	})
	return f
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

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	orders, err := f.orders.List(context.Background())
	require.NoError(t, err)
	return len(orders)
}

type memoryIdem struct {
	mu   sync.Mutex
	keys map[string]int64
	// ignoreSession stores keys globally, the way an unscoped store would.
	ignoreSession bool
}

func (m *memoryIdem) slot(sessionID, key string) string {
	if m.ignoreSession {
		return key
	}
	return sessionID + ":" + key
}

func (m *memoryIdem) LookupOrder(_ context.Context, sessionID, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[m.slot(sessionID, key)]
	return id, ok, nil
}

func (m *memoryIdem) RememberOrder(_ context.Context, sessionID, key string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]int64{}
	}
	if _, ok := m.keys[m.slot(sessionID, key)]; !ok {
		m.keys[m.slot(sessionID, key)] = id
	}
	return nil
}

// repricingReader changes a product's price right after serving the first
// read of the cart, before checkout holds the product locks.
type repricingReader struct {
	cartReader
	store     *memdb.Store
	productID int64
	price     int64
	calls     int
}

func (r *repricingReader) ListLines(ctx context.Context, sessionID string) ([]domain.CartLine, error) {
	lines, err := r.cartReader.ListLines(ctx, sessionID)
	r.calls++
	if err != nil || r.calls != 1 {
		return lines, err
	}
	return lines, r.store.Update(func(tx *memdb.Tx) error {
		p, err := tx.Product(r.productID)
		if err != nil {
			return err
		}
		p.PriceCents = r.price
		_, err = tx.PutProduct(p)
		return err
	})
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

type failingCommit struct {
	orderrepo.Repository
}

func (failingCommit) Commit(context.Context, orderrepo.CommitInput) (*domain.Order, error) {
	return nil, errors.New("connection reset")
}

func TestCheckoutCommitsCartWithoutTouchingStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	_, err := f.carts.Add(ctx, "s1", f.ids[0], 2)
	require.NoError(t, err)
	before := f.available(t, f.ids[0])

	order, err := f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer})
	require.NoError(t, err)
	assert.NotEmpty(t, order.OrderNumber)
	assert.Equal(t, int64(20), order.OrderTotalCents)
	require.Len(t, order.Items, 1)
	assert.Equal(t, f.ids[0], order.Items[0].ProductID)
	assert.Equal(t, 2, order.Items[0].Qty)
	assert.Equal(t, int64(20), order.Items[0].ItemTotalCents)

	assert.Equal(t, before, f.available(t, f.ids[0]), "checkout must not touch stock")
	cart, err := f.carts.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	require.Len(t, f.events.got, 1)
	payload, err := events.Decode[events.OrderCommitted](f.events.got[0])
	require.NoError(t, err)
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, int64(20), payload.TotalCents)
}

func TestCheckoutSnapshotsPriceAtCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 1)
	require.NoError(t, err)

	order, err := f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer})
	require.NoError(t, err)

	require.NoError(t, f.store.Update(func(tx *memdb.Tx) error {
		p, err := tx.Product(f.ids[0])
		if err != nil {
			return err
		}
		p.PriceCents = 99
		_, err = tx.PutProduct(p)
		return err
	}))

	stored, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Items[0].ItemPriceCents)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.svc.Checkout(context.Background(), "s1", CheckoutInput{Customer: customer})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Zero(t, f.orderCount(t))
}

func TestCheckoutInvalidCustomer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 1)
	require.NoError(t, err)

	bad := customer
	bad.Email = "not-an-email"
	_, err = f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: bad})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, f.orderCount(t))
}

func TestCheckoutRejectsStaleClientView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 5)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 2)
	require.NoError(t, err)
	_, err = f.carts.Add(ctx, "s1", f.ids[1], 1)
	require.NoError(t, err)

	total := int64(25)
	cases := map[string]CheckoutInput{
		"missing item":   {Customer: customer, Items: []ItemRequest{{ProductID: f.ids[0], Qty: 2}}},
		"wrong quantity": {Customer: customer, Items: []ItemRequest{{ProductID: f.ids[0], Qty: 1}, {ProductID: f.ids[1], Qty: 1}}},
		"unknown item":   {Customer: customer, Items: []ItemRequest{{ProductID: f.ids[0], Qty: 2}, {ProductID: 999, Qty: 1}}},
		"wrong total":    {Customer: customer, TotalCents: &total},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Checkout(ctx, "s1", in)
			var rejected *domain.RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.ErrorIs(t, err, domain.ErrRejected)
		})
	}

	cart, err := f.carts.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 2)
	assert.Zero(t, f.orderCount(t))

	total = 2*10 + 5
	order, err := f.svc.Checkout(ctx, "s1", CheckoutInput{
		Customer:   customer,
		Items:      []ItemRequest{{ProductID: f.ids[1], Qty: 1}, {ProductID: f.ids[0], Qty: 2}},
		TotalCents: &total,
	})
	require.NoError(t, err)
	assert.Equal(t, total, order.OrderTotalCents)
}

func TestCheckoutRejectsDeletedProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 5)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 1)
	require.NoError(t, err)
	_, err = f.carts.Add(ctx, "s1", f.ids[1], 1)
	require.NoError(t, err)
	require.NoError(t, f.store.Update(func(tx *memdb.Tx) error { return tx.DeleteProduct(f.ids[1]) }))

	_, err = f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer})
	var rejected *domain.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, f.ids[1], rejected.ProductID)
	assert.Zero(t, f.orderCount(t))
}

func TestCheckoutFailureLeavesEverythingIntact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 3)
	require.NoError(t, err)
	before := f.available(t, f.ids[0])

	f.svc.orders = failingCommit{Repository: f.orders}
	_, err = f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer})
	assert.ErrorIs(t, err, domain.ErrPersistence)

	assert.Zero(t, f.orderCount(t))
	assert.Equal(t, before, f.available(t, f.ids[0]))
	cart, err := f.carts.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 3, cart.Lines[0].Quantity)
	assert.Empty(t, f.events.got)
}

func TestCheckoutIdempotencyKeyReplays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 1)
	require.NoError(t, err)

	first, err := f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer, IdempotencyKey: "k1"})
	require.NoError(t, err)
	again, err := f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.orderCount(t))

	_, err = f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer, IdempotencyKey: "k2"})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCheckoutIdempotencyKeyScopedToSession(t *testing.T) {
	for name, ignoreSession := range map[string]bool{"scoped store": false, "unscoped store": true} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, 10)
			f.idem.ignoreSession = ignoreSession
			_, err := f.carts.Add(ctx, "s1", f.ids[0], 1)
			require.NoError(t, err)
			_, err = f.carts.Add(ctx, "s2", f.ids[0], 2)
			require.NoError(t, err)

			first, err := f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer, IdempotencyKey: "k1"})
			require.NoError(t, err)

			other := customer
			other.Email = "grace@example.com"
			second, err := f.svc.Checkout(ctx, "s2", CheckoutInput{Customer: other, IdempotencyKey: "k1"})
			require.NoError(t, err)
			assert.NotEqual(t, first.ID, second.ID)
			assert.Equal(t, "s2", second.SessionID)
			assert.Equal(t, "grace@example.com", second.Customer.Email)
			assert.Equal(t, int64(20), second.OrderTotalCents)
			assert.Equal(t, 2, f.orderCount(t))

			cart, err := f.carts.Get(ctx, "s2")
			require.NoError(t, err)
			assert.True(t, cart.IsEmpty())
		})
	}
}

// Requests sharing a key while the first is in flight all see its order.
func TestConcurrentCheckoutSameKeyReplays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 2)
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		orders = make([]*domain.Order, 4)
		errs   = make([]error, 4)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orders[i], errs[i] = f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer, IdempotencyKey: "k1"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err)
		assert.Equal(t, orders[0].ID, orders[i].ID)
	}
	assert.Equal(t, 1, f.orderCount(t))
}

func TestCheckoutValidatesTotalAgainstLockedPrices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 2)
	require.NoError(t, err)

	f.svc.carts = &repricingReader{cartReader: f.lines, store: f.store, productID: f.ids[0], price: 15}
	stale := int64(20)
	_, err = f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer, TotalCents: &stale})
	var rejected *domain.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Zero(t, f.orderCount(t))

	current := int64(30)
	order, err := f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer, TotalCents: &current})
	require.NoError(t, err)
	assert.Equal(t, current, order.OrderTotalCents)
	assert.Equal(t, int64(15), order.Items[0].ItemPriceCents)
}

// Concurrent checkouts of one cart commit it once.
func TestConcurrentCheckoutCommitsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 2)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 4)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrEmptyCart)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.orderCount(t))
}

func TestListAndLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	for _, session := range []string{"s1", "s2"} {
		_, err := f.carts.Add(ctx, session, f.ids[0], 1)
		require.NoError(t, err)
		_, err = f.svc.Checkout(ctx, session, CheckoutInput{Customer: customer})
		require.NoError(t, err)
	}

	orders, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Greater(t, orders[0].ID, orders[1].ID)

	byNumber, err := f.svc.GetByNumber(ctx, orders[1].OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, orders[1].ID, byNumber.ID)

	_, err = f.svc.Get(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionScopedReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	_, err := f.carts.Add(ctx, "s1", f.ids[0], 1)
	require.NoError(t, err)
	order, err := f.svc.Checkout(ctx, "s1", CheckoutInput{Customer: customer})
	require.NoError(t, err)

	mine, err := f.svc.ListForSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := f.svc.ListForSession(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = f.svc.GetForSession(ctx, "s1", order.ID)
	require.NoError(t, err)
	_, err = f.svc.GetForSession(ctx, "s2", order.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
