package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var ErrProducerClosed = errors.New("kafka: producer closed")

// writer is the part of *kafka.Writer the producer needs.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer ships lifecycle events. Publish calls go through a buffered
// inbox drained by one goroutine; PublishSync bypasses it.
type Producer struct {
	w       writer
	log     *zap.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newProducer(w, buf, log)
}

func newProducer(w writer, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		w:       w,
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the drain loop. It stops after Close, once the inbox is empty.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.log.Error("kafka write failed",
					zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", zap.Error(err))
		}
	}()
}

// PublishEvent queues env for topic. It blocks only while the inbox is full.
func (p *Producer) PublishEvent(ctx context.Context, topic string, env orders.Envelope) error {
	m, err := message(ctx, topic, env)
	if err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSync writes env and waits for the brokers to acknowledge it.
func (p *Producer) PublishSync(ctx context.Context, topic string, env orders.Envelope) error {
	m, err := message(ctx, topic, env)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, m)
}

// Sync returns a Publisher whose PublishEvent is PublishSync.
func (p *Producer) Sync() orders.Publisher { return syncPublisher{p} }

type syncPublisher struct{ p *Producer }

func (s syncPublisher) PublishEvent(ctx context.Context, topic string, env orders.Envelope) error {
	return s.p.PublishSync(ctx, topic, env)
}

// Close stops accepting events; the drain loop flushes what is queued.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the drain loop has exited.
func (p *Producer) WaitClosed() { <-p.closeCh }

func message(ctx context.Context, topic string, env orders.Envelope) (kafka.Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}
	carrier := HeaderCarrier{Headers: &headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return kafka.Message{
		Topic:   topic,
		Key:     orders.PartitionKey(env.CorrelationID),
		Value:   b,
		Time:    env.OccurredAt,
		Headers: headers,
	}, nil
}
