package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/metrics"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/ariefcatur/go-order-lifecycle/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newConfirmer(s orders.Store) (*Confirmer, *testutil.Publisher) {
	pub := &testutil.Publisher{}
	return &Confirmer{
		Store:       s,
		Events:      pub,
		Metrics:     metrics.New(prometheus.NewRegistry(), "test"),
		Now:         func() time.Time { return fixedNow },
		ServiceName: "test",
	}, pub
}

// scenarioB is a pending order of qty 3 whose product has stock 0, reserved 3.
func scenarioB(t *testing.T) *orders.MemStore {
	s := orders.NewMemStore()
	s.PutProduct(orders.Product{ID: "p1", Name: "Chair", Stock: 0, Reserved: 3})
	testutil.SeedPending(t, s, "o1", "u1", "p1", 3, fixedNow.Add(10*time.Minute))
	return s
}

func approved(orderID string) Resolution {
	return Resolution{
		OrderID:    orderID,
		PaymentID:  "123456",
		Status:     StatusApproved,
		UpdateTime: "2025-03-01T10:01:00Z",
		PayerEmail: "buyer@example.com",
		ApprovedAt: fixedNow.Add(time.Minute),
	}
}

func TestConfirm_ScenarioB(t *testing.T) {
	s := scenarioB(t)
	c, pub := newConfirmer(s)
	ctx := context.Background()

	o, outcome, err := c.Confirm(ctx, approved("o1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, orders.StatusCompleted, o.Status)
	require.NotNil(t, o.PaymentResult)
	assert.Equal(t, orders.PaymentResult{
		ExternalID: "123456", ExternalStatus: "approved",
		UpdateTime: "2025-03-01T10:01:00Z", PayerEmail: "buyer@example.com",
	}, *o.PaymentResult)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, fixedNow.Add(time.Minute), *o.PaidAt)

	p, _ := s.Product("p1")
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, 0, p.Reserved)
	assert.Len(t, pub.OfType(orders.EventOrderCompleted), 1)

	// Replay: no further mutation, same terminal state.
	before, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	again, outcome, err := c.Confirm(ctx, approved("o1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, outcome)
	assert.Equal(t, before, again)

	p2, _ := s.Product("p1")
	assert.Equal(t, p, p2)
	assert.Len(t, pub.OfType(orders.EventOrderCompleted), 1)
}

func TestConfirm_ConcurrentIdenticalConfirmations(t *testing.T) {
	s := scenarioB(t)
	s.PutProduct(orders.Product{ID: "p2", Name: "Desk", Stock: 5, Reserved: 4})
	testutil.SeedPending(t, s, "o2", "u2", "p2", 4, fixedNow.Add(10*time.Minute))
	c, pub := newConfirmer(s)

	const n = 32
	outcomes := make(chan Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, outcome, err := c.Confirm(context.Background(), approved("o1"))
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, orders.StatusCompleted, o.Status)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, map[Outcome]int{OutcomeCompleted: 1, OutcomeAlreadyTerminal: n - 1}, counts)

	p1, _ := s.Product("p1")
	assert.Equal(t, orders.Product{ID: "p1", Name: "Chair", Stock: 0, Reserved: 0}, p1)
	p2, _ := s.Product("p2")
	assert.Equal(t, 4, p2.Reserved, "other orders keep their reservation")
	assert.Empty(t, testutil.ReservedMatchesPending(s, "p1", "p2"))
	assert.Len(t, pub.OfType(orders.EventOrderCompleted), 1)
}

func TestConfirm_NotApprovedLeavesOrderPending(t *testing.T) {
	s := scenarioB(t)
	c, pub := newConfirmer(s)

	r := approved("o1")
	r.Status = "rejected"
	o, outcome, err := c.Confirm(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotApproved, outcome)
	assert.Equal(t, orders.StatusPending, o.Status)

	p, _ := s.Product("p1")
	assert.Equal(t, 3, p.Reserved)
	assert.Empty(t, pub.Events())
}

func TestConfirm_CancelledOrderIsNotRevived(t *testing.T) {
	s := scenarioB(t)
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		if err := tx.Cancel(ctx, "o1"); err != nil {
			return err
		}
		return tx.Restock(ctx, "p1", 3)
	}))
	c, _ := newConfirmer(s)

	o, outcome, err := c.Confirm(context.Background(), approved("o1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, outcome)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	p, _ := s.Product("p1")
	assert.Equal(t, orders.Product{ID: "p1", Name: "Chair", Stock: 3, Reserved: 0}, p)
}

func TestConfirm_MissingOrder(t *testing.T) {
	c, _ := newConfirmer(orders.NewMemStore())
	_, outcome, err := c.Confirm(context.Background(), approved("ghost"))
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.Equal(t, OutcomeOrderNotFound, outcome)
}

func TestConfirm_FallsBackToNowForPaidAt(t *testing.T) {
	s := scenarioB(t)
	c, _ := newConfirmer(s)
	r := approved("o1")
	r.ApprovedAt = time.Time{}

	o, _, err := c.Confirm(context.Background(), r)
	require.NoError(t, err)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, fixedNow, *o.PaidAt)
}

func TestPayManually_Defaults(t *testing.T) {
	s := scenarioB(t)
	c, _ := newConfirmer(s)

	o, outcome, err := c.PayManually(context.Background(), "u1", "o1", ManualPayment{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	require.NotNil(t, o.PaymentResult)
	assert.Equal(t, orders.PaymentResult{
		ExternalID:     "TEST_ID_MANUAL",
		ExternalStatus: "approved",
		UpdateTime:     fixedNow.Format(time.RFC3339),
		PayerEmail:     "test@example.com",
	}, *o.PaymentResult)
}

func TestPayManually_SuppliedFieldsAndOwnership(t *testing.T) {
	s := scenarioB(t)
	c, _ := newConfirmer(s)
	ctx := context.Background()

	_, _, err := c.PayManually(ctx, "intruder", "o1", ManualPayment{})
	assert.ErrorIs(t, err, orders.ErrUnauthorized)

	_, _, err = c.PayManually(ctx, "u1", "ghost", ManualPayment{})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	o, _, err := c.PayManually(ctx, "u1", "o1", ManualPayment{ID: "ext-9", EmailAddress: "me@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ext-9", o.PaymentResult.ExternalID)
	assert.Equal(t, "me@example.com", o.PaymentResult.PayerEmail)
	assert.Equal(t, "approved", o.PaymentResult.ExternalStatus)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", OutcomeCompleted.String())
	assert.Equal(t, "Outcome(42)", Outcome(42).String())
}
