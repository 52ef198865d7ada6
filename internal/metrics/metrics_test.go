package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Created()
		m.Completed()
		m.Cancelled(3)
		m.ReservationFailed("validation")
		m.PaymentEvent("completed")
		m.ObserveSweep(time.Second)
		m.ObserveRequest("GET /healthz", 200, time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "order-api")

	m.Created()
	m.Cancelled(2)
	m.Cancelled(0)
	m.ReservationFailed("insufficient_stock")
	m.ObserveRequest("POST /api/orders/", 201, 12*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersCreated))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OrdersCancelled))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReservationErrors.WithLabelValues("insufficient_stock")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("POST /api/orders/", "201")))

	n, err := testutil.GatherAndCount(reg, "orders_created_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}
