package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/metrics"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("payment")

// Outcome says what a confirmation attempt did. Only OutcomeCompleted
// mutated anything.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeNoPayment
	OutcomeOrderNotFound
	OutcomeNotApproved
	OutcomeAlreadyTerminal
	OutcomeCompleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNoPayment:
		return "no_payment"
	case OutcomeOrderNotFound:
		return "order_not_found"
	case OutcomeNotApproved:
		return "not_approved"
	case OutcomeAlreadyTerminal:
		return "already_terminal"
	case OutcomeCompleted:
		return "completed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Resolution is the canonical payment record an order transition is based on.
type Resolution struct {
	OrderID    string
	PaymentID  string
	Status     string
	UpdateTime string
	PayerEmail string
	ApprovedAt time.Time
}

// Confirmer applies payment resolutions to orders. Duplicate and late
// deliveries are safe: the pending check happens under the order lock.
type Confirmer struct {
	Store       orders.Store
	Events      orders.Publisher
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	Now         func() time.Time
	ServiceName string
}

func (c *Confirmer) Confirm(ctx context.Context, r Resolution) (orders.Order, Outcome, error) {
	ctx, span := tracer.Start(ctx, "payment.Confirm")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", r.OrderID),
		attribute.String("payment.id", r.PaymentID),
		attribute.String("payment.status", r.Status),
	)

	var (
		result  orders.Order
		outcome Outcome
	)
	err := c.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.LockOrder(ctx, r.OrderID)
		if err != nil {
			return err
		}
		result = o

		switch o.Status {
		case orders.StatusCompleted, orders.StatusCancelled:
			outcome = OutcomeAlreadyTerminal
			return nil
		case orders.StatusPending:
		default:
			return orders.Internal("confirm", fmt.Errorf("order %s has status %s", o.ID, o.Status))
		}

		if r.Status != StatusApproved {
			outcome = OutcomeNotApproved
			return nil
		}

		for _, it := range o.Items {
			if err := tx.Release(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		paidAt := r.ApprovedAt
		if paidAt.IsZero() {
			paidAt = c.now()
		}
		res := orders.PaymentResult{
			ExternalID:     r.PaymentID,
			ExternalStatus: r.Status,
			UpdateTime:     r.UpdateTime,
			PayerEmail:     r.PayerEmail,
		}
		if err := tx.Complete(ctx, o.ID, res, paidAt); err != nil {
			return err
		}
		result.Status = orders.StatusCompleted
		result.PaymentResult = &res
		result.PaidAt = &paidAt
		outcome = OutcomeCompleted
		return nil
	})
	if errors.Is(err, orders.ErrNotFound) {
		span.SetAttributes(attribute.String("payment.outcome", OutcomeOrderNotFound.String()))
		return orders.Order{}, OutcomeOrderNotFound, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm failed")
		return orders.Order{}, OutcomeIgnored, err
	}
	span.SetAttributes(attribute.String("payment.outcome", outcome.String()))

	switch outcome {
	case OutcomeCompleted:
		c.Metrics.Completed()
		c.log().Info("order completed",
			zap.String("order_id", result.ID),
			zap.String("payment_id", r.PaymentID),
		)
		c.publishCompleted(ctx, result)
	case OutcomeAlreadyTerminal:
		if result.Status == orders.StatusCancelled && r.Status == StatusApproved {
			c.log().Warn("approved payment for cancelled order",
				zap.String("order_id", result.ID),
				zap.String("payment_id", r.PaymentID),
			)
		}
	}
	return result, outcome, nil
}

func (c *Confirmer) publishCompleted(ctx context.Context, o orders.Order) {
	if c.Events == nil {
		return
	}
	env, err := orders.NewEnvelope(orders.EventOrderCompleted, c.ServiceName, o.ID, orders.OrderCompletedPayload{
		OrderID:    o.ID,
		PaymentRef: o.PaymentResult.ExternalID,
		PaidAt:     *o.PaidAt,
	})
	if err == nil {
		err = c.Events.PublishEvent(ctx, orders.TopicOrderCompleted, env)
	}
	if err != nil {
		c.log().Warn("publish order completed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// ManualPayment carries the optional fields of an out-of-band settlement.
type ManualPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// PayManually settles an order owned by userID without asking the gateway.
// Missing fields default to an approved test payment.
func (c *Confirmer) PayManually(ctx context.Context, userID, orderID string, in ManualPayment) (orders.Order, Outcome, error) {
	o, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, OutcomeOrderNotFound, err
	}
	if o.UserID != userID {
		return orders.Order{}, OutcomeIgnored, fmt.Errorf("order %s: %w", orderID, orders.ErrUnauthorized)
	}
	now := c.now()
	r := Resolution{
		OrderID:    orderID,
		PaymentID:  orDefault(in.ID, "TEST_ID_MANUAL"),
		Status:     orDefault(in.Status, StatusApproved),
		UpdateTime: orDefault(in.UpdateTime, now.Format(time.RFC3339)),
		PayerEmail: orDefault(in.EmailAddress, "test@example.com"),
		ApprovedAt: now,
	}
	return c.Confirm(ctx, r)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (c *Confirmer) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Confirmer) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}
