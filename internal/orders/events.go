package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated        = "OrderCreated"
	EventOrderCompleted      = "OrderCompleted"
	EventOrderCancelled      = "OrderCancelled"
	EventPaymentNotification = "PaymentNotification"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload as a v1 event. The payload must be JSON-encodable.
func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Items      []ItemQty       `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

type OrderCompletedPayload struct {
	OrderID    string    `json:"order_id"`
	PaymentRef string    `json:"payment_ref"`
	PaidAt     time.Time `json:"paid_at"`
}

type OrderCancelledPayload struct {
	OrderID string    `json:"order_id"`
	Reason  string    `json:"reason"` // e.g. EXPIRED
	Items   []ItemQty `json:"items"`
}

// PaymentNotificationPayload carries only what identifies a gateway event.
// Status and amount are always looked up again before acting.
type PaymentNotificationPayload struct {
	Kind       string `json:"kind"` // payment | merchant_order
	ResourceID string `json:"resource_id"`
}

func ItemsOf(o Order) []ItemQty {
	out := make([]ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}

// Publisher ships lifecycle events after their unit of work has committed.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, env Envelope) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, string, Envelope) error { return nil }
