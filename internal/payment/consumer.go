package payment

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-lifecycle/internal/kafka"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// HandleMessage consumes a queued payment notification. A nil return lets
// the consumer commit the offset; a non-nil one leaves the message for
// redelivery.
func (h *Handler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafka.DecodeEnvelope(m)
	if err != nil {
		h.log().Warn("drop undecodable notification", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventPaymentNotification {
		return nil
	}
	p, err := kafka.UnwrapPayload[orders.PaymentNotificationPayload](env.Payload)
	if err != nil {
		h.log().Warn("drop malformed notification", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if _, err := h.Handle(ctx, Notification{Kind: p.Kind, ResourceID: p.ResourceID}); err != nil {
		return fmt.Errorf("notification %s: %w", env.EventID, err)
	}
	return nil
}

// Enqueue wraps n for the notifications topic.
func Enqueue(ctx context.Context, pub orders.Publisher, producer string, n Notification) error {
	env, err := orders.NewEnvelope(orders.EventPaymentNotification, producer, n.ResourceID,
		orders.PaymentNotificationPayload{Kind: n.Kind, ResourceID: n.ResourceID})
	if err != nil {
		return err
	}
	return pub.PublishEvent(ctx, orders.TopicPaymentNotifications, env)
}
