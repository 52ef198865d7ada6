package expiry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/metrics"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/ariefcatur/go-order-lifecycle/internal/payment"
	"github.com/ariefcatur/go-order-lifecycle/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newSweeper(s orders.Store) (*Sweeper, *testutil.Publisher) {
	pub := &testutil.Publisher{}
	return &Sweeper{
		Store:       s,
		Events:      pub,
		Metrics:     metrics.New(prometheus.NewRegistry(), "test"),
		Now:         func() time.Time { return fixedNow },
		ServiceName: "test",
	}, pub
}

func TestSweepOnce_ScenarioC(t *testing.T) {
	s := orders.NewMemStore()
	s.PutProduct(orders.Product{ID: "p1", Name: "Desk", Stock: 2, Reserved: 3})
	testutil.SeedPending(t, s, "o1", "u1", "p1", 3, fixedNow.Add(-time.Second))
	sw, pub := newSweeper(s)
	ctx := context.Background()

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, _ := s.Product("p1")
	assert.Equal(t, 5, p.Stock)
	assert.Equal(t, 0, p.Reserved)
	o, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)

	cancelled := pub.OfType(orders.EventOrderCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, orders.TopicOrderCancelled, cancelled[0].Topic)
	assert.Equal(t, float64(1), promtest.ToFloat64(sw.Metrics.OrdersCancelled))

	// Second pass finds nothing.
	n, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	p2, _ := s.Product("p1")
	assert.Equal(t, p, p2)
	assert.Len(t, pub.OfType(orders.EventOrderCancelled), 1)
}

func TestSweepOnce_LeavesLiveAndTerminalOrders(t *testing.T) {
	s := orders.NewMemStore()
	s.PutProduct(orders.Product{ID: "p1", Stock: 10, Reserved: 3})
	testutil.SeedPending(t, s, "live", "u1", "p1", 1, fixedNow.Add(time.Minute))
	testutil.SeedPending(t, s, "due", "u1", "p1", 2, fixedNow)
	testutil.SeedPending(t, s, "paid", "u1", "p1", 4, fixedNow.Add(-time.Hour))
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.Complete(ctx, "paid", orders.PaymentResult{ExternalID: "x"}, fixedNow)
	}))
	sw, _ := newSweeper(s)

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status := map[string]orders.Status{}
	for _, o := range s.Orders() {
		status[o.ID] = o.Status
	}
	assert.Equal(t, map[string]orders.Status{
		"live": orders.StatusPending,
		"due":  orders.StatusCancelled,
		"paid": orders.StatusCompleted,
	}, status)
	assert.Empty(t, testutil.ReservedMatchesPending(s, "p1"))
}

// failingStore fails the unit of work for one order id.
type failingStore struct {
	orders.Store
	failID string
}

func (f failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return f.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return fn(ctx, failingTx{Tx: tx, failID: f.failID})
	})
}

type failingTx struct {
	orders.Tx
	failID string
}

func (f failingTx) Cancel(ctx context.Context, id string) error {
	if id == f.failID {
		return orders.Internal("cancel", errors.New("disk on fire"))
	}
	return f.Tx.Cancel(ctx, id)
}

func TestSweepOnce_OneFailureDoesNotBlockOthers(t *testing.T) {
	s := orders.NewMemStore()
	s.PutProduct(orders.Product{ID: "p1", Stock: 0, Reserved: 3})
	testutil.SeedPending(t, s, "a", "u1", "p1", 1, fixedNow.Add(-3*time.Minute))
	testutil.SeedPending(t, s, "b", "u1", "p1", 1, fixedNow.Add(-2*time.Minute))
	testutil.SeedPending(t, s, "c", "u1", "p1", 1, fixedNow.Add(-1*time.Minute))
	sw, _ := newSweeper(failingStore{Store: s, failID: "b"})

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, _ := s.GetOrder(context.Background(), "b")
	assert.Equal(t, orders.StatusPending, b.Status)
	p, _ := s.Product("p1")
	assert.Equal(t, 2, p.Stock)
	assert.Equal(t, 1, p.Reserved)
}

func TestSweepOnce_BatchSize(t *testing.T) {
	s := orders.NewMemStore()
	s.PutProduct(orders.Product{ID: "p1", Stock: 0, Reserved: 3})
	for _, id := range []string{"a", "b", "c"} {
		testutil.SeedPending(t, s, id, "u1", "p1", 1, fixedNow.Add(-time.Minute))
	}
	sw, _ := newSweeper(s)
	sw.BatchSize = 2

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCancelExpired_RechecksUnderLock(t *testing.T) {
	s := orders.NewMemStore()
	s.PutProduct(orders.Product{ID: "p1", Stock: 0, Reserved: 1})
	testutil.SeedPending(t, s, "o1", "u1", "p1", 1, fixedNow.Add(time.Minute))
	sw, _ := newSweeper(s)

	// Listed as expired by a stale clock, but not expired at the check.
	ok, err := sw.CancelExpired(context.Background(), "o1", fixedNow)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sw.CancelExpired(context.Background(), "missing", fixedNow)
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.False(t, ok)
}

func TestSweepRacesConfirmation(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := orders.NewMemStore()
		s.PutProduct(orders.Product{ID: "p1", Stock: 0, Reserved: 3})
		testutil.SeedPending(t, s, "o1", "u1", "p1", 3, fixedNow.Add(-time.Second))
		sw, _ := newSweeper(s)
		c := &payment.Confirmer{Store: s, Now: func() time.Time { return fixedNow }}

		var wg sync.WaitGroup
		var swept int
		var outcome payment.Outcome
		wg.Add(2)
		go func() {
			defer wg.Done()
			n, err := sw.SweepOnce(context.Background())
			assert.NoError(t, err)
			swept = n
		}()
		go func() {
			defer wg.Done()
			_, out, err := c.Confirm(context.Background(), payment.Resolution{OrderID: "o1", PaymentID: "9", Status: payment.StatusApproved})
			assert.NoError(t, err)
			outcome = out
		}()
		wg.Wait()

		o, _ := s.GetOrder(context.Background(), "o1")
		p, _ := s.Product("p1")
		assert.Equal(t, 0, p.Reserved)
		switch o.Status {
		case orders.StatusCancelled:
			assert.Equal(t, 1, swept)
			assert.Equal(t, payment.OutcomeAlreadyTerminal, outcome)
			assert.Equal(t, 3, p.Stock)
		case orders.StatusCompleted:
			assert.Equal(t, 0, swept)
			assert.Equal(t, payment.OutcomeCompleted, outcome)
			assert.Equal(t, 0, p.Stock)
		default:
			t.Fatalf("order left %s", o.Status)
		}
	}
}
