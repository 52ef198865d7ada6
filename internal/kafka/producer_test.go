package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func envelope(t *testing.T, orderID string) orders.Envelope {
	env, err := orders.NewEnvelope(orders.EventOrderCreated, "test", orderID, orders.OrderCreatedPayload{OrderID: orderID})
	require.NoError(t, err)
	return env
}

func TestProducer_FlushesQueuedEventsOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, nil)
	p.Start()

	for _, id := range []string{"o1", "o2", "o3"} {
		require.NoError(t, p.PublishEvent(context.Background(), orders.TopicOrderCreated, envelope(t, id)))
	}
	p.Close()
	p.WaitClosed()

	msgs := w.written()
	require.Len(t, msgs, 3)
	assert.True(t, w.closed)
	m := msgs[0]
	assert.Equal(t, orders.TopicOrderCreated, m.Topic)
	assert.Equal(t, []byte("o1"), m.Key)
	assert.Equal(t, orders.EventOrderCreated, header(m, HeaderEventType))
	assert.Equal(t, "1", header(m, HeaderEventVersion))

	env, err := DecodeEnvelope(m)
	require.NoError(t, err)
	payload, err := UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "o1", payload.OrderID)

	assert.ErrorIs(t, p.PublishEvent(context.Background(), orders.TopicOrderCreated, envelope(t, "late")), ErrProducerClosed)
	p.Close()
}

func TestProducer_SyncReportsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newProducer(w, 1, nil)

	err := p.Sync().PublishEvent(context.Background(), orders.TopicPaymentNotifications, envelope(t, "o1"))
	assert.Error(t, err)

	w.err = nil
	require.NoError(t, p.PublishSync(context.Background(), orders.TopicPaymentNotifications, envelope(t, "o1")))
	assert.Len(t, w.written(), 1)
}

func TestProducer_PublishHonoursContextWhenFull(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, nil)
	require.NoError(t, p.PublishEvent(context.Background(), orders.TopicOrderCreated, envelope(t, "o1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.PublishEvent(ctx, orders.TopicOrderCreated, envelope(t, "o2"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeaderCarrier_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	m, err := message(ctx, orders.TopicOrderCreated, envelope(t, "o1"))
	require.NoError(t, err)
	assert.Contains(t, header(m, "traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")

	got := otel.GetTextMapPropagator().Extract(context.Background(), HeaderCarrier{Headers: &m.Headers})
	assert.Equal(t, traceID, trace.SpanContextFromContext(got).TraceID())
}
