package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of the order lifecycle. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	OrdersCreated     prometheus.Counter
	OrdersCompleted   prometheus.Counter
	OrdersCancelled   prometheus.Counter
	ReservationErrors *prometheus.CounterVec
	WebhookEvents     *prometheus.CounterVec
	SweepDuration     prometheus.Histogram
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
}

func New(reg prometheus.Registerer, service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders", ConstLabels: labels,
			Name: "created_total", Help: "Orders created with their stock reserved.",
		}),
		OrdersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders", ConstLabels: labels,
			Name: "completed_total", Help: "Orders moved to completed by a payment confirmation.",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders", ConstLabels: labels,
			Name: "cancelled_total", Help: "Expired orders cancelled and restocked.",
		}),
		ReservationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders", ConstLabels: labels,
			Name: "reservation_failures_total", Help: "Create-order attempts that reserved nothing.",
		}, []string{"reason"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders", ConstLabels: labels,
			Name: "payment_events_total", Help: "Payment notifications by outcome.",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orders", ConstLabels: labels,
			Name: "sweep_duration_seconds", Help: "Duration of one expiration sweep pass.",
			Buckets: prometheus.DefBuckets,
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders", ConstLabels: labels,
			Name: "http_requests_total", Help: "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orders", ConstLabels: labels,
			Name: "http_request_duration_ms", Help: "HTTP request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
	}
	reg.MustRegister(m.OrdersCreated, m.OrdersCompleted, m.OrdersCancelled, m.ReservationErrors,
		m.WebhookEvents, m.SweepDuration, m.Requests, m.LatencyMS)
	return m
}

func (m *Metrics) Created() {
	if m != nil {
		m.OrdersCreated.Inc()
	}
}

func (m *Metrics) Completed() {
	if m != nil {
		m.OrdersCompleted.Inc()
	}
}

func (m *Metrics) Cancelled(n int) {
	if m != nil {
		m.OrdersCancelled.Add(float64(n))
	}
}

func (m *Metrics) ReservationFailed(reason string) {
	if m != nil {
		m.ReservationErrors.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) PaymentEvent(outcome string) {
	if m != nil {
		m.WebhookEvents.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.SweepDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveRequest(handler string, status int, d time.Duration) {
	if m != nil {
		m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(d.Milliseconds()))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
