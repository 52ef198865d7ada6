package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/metrics"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const DefaultBatchSize = 500

var tracer = otel.Tracer("expiry")

// Sweeper cancels pending orders whose reservation window has passed and
// puts their quantities back on the shelf.
type Sweeper struct {
	Store       orders.Store
	Events      orders.Publisher
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	Now         func() time.Time
	BatchSize   int
	ServiceName string
}

// SweepOnce runs one pass. Each order is its own unit of work; a failure is
// logged and the pass moves on. The returned count is the number of orders
// this pass cancelled.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "expiry.SweepOnce")
	defer span.End()
	start := time.Now()
	defer func() { s.Metrics.ObserveSweep(time.Since(start)) }()

	now := s.now()
	ids, err := s.Store.ListExpired(ctx, now, s.batchSize())
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	cancelled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.CancelExpired(ctx, id, now)
		if err != nil {
			s.log().Error("cancel expired order", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if ok {
			cancelled++
		}
	}

	span.SetAttributes(attribute.Int("orders.expired", len(ids)), attribute.Int("orders.cancelled", cancelled))
	s.Metrics.Cancelled(cancelled)
	if len(ids) > 0 {
		s.log().Info("sweep finished", zap.Int("expired", len(ids)), zap.Int("cancelled", cancelled))
	}
	return cancelled, ctx.Err()
}

// CancelExpired cancels one order if, under its lock, it is still pending and
// expired at now. It reports false when another unit got there first.
func (s *Sweeper) CancelExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	var cancelled orders.Order
	done := false
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		switch o.Status {
		case orders.StatusCompleted, orders.StatusCancelled:
			return nil
		case orders.StatusPending:
			if !o.Expired(now) {
				return nil
			}
		default:
			return orders.Internal("cancel", fmt.Errorf("order %s has status %s", o.ID, o.Status))
		}

		if err := tx.Cancel(ctx, o.ID); err != nil {
			return err
		}
		for _, it := range o.Items {
			if err := tx.Restock(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		o.Status = orders.StatusCancelled
		cancelled = o
		done = true
		return nil
	})
	if err != nil || !done {
		return false, err
	}

	s.log().Info("order cancelled", zap.String("order_id", id), zap.Int("lines", len(cancelled.Items)))
	s.publishCancelled(ctx, cancelled)
	return true, nil
}

func (s *Sweeper) publishCancelled(ctx context.Context, o orders.Order) {
	if s.Events == nil {
		return
	}
	env, err := orders.NewEnvelope(orders.EventOrderCancelled, s.ServiceName, o.ID, orders.OrderCancelledPayload{
		OrderID: o.ID,
		Reason:  "EXPIRED",
		Items:   orders.ItemsOf(o),
	})
	if err == nil {
		err = s.Events.PublishEvent(ctx, orders.TopicOrderCancelled, env)
	}
	if err != nil {
		s.log().Warn("publish order cancelled", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (s *Sweeper) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return DefaultBatchSize
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Sweeper) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}
