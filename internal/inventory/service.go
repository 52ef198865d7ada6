package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/metrics"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const DefaultOrderTTL = 15 * time.Minute

var tracer = otel.Tracer("inventory")

// Coordinator turns a user's cart into a pending order, reserving stock for
// every line in the same unit of work.
type Coordinator struct {
	Store       orders.Store
	Events      orders.Publisher
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	TTL         time.Duration
	Now         func() time.Time
	ServiceName string
}

type CreateOrderInput struct {
	UserID          string
	ShippingAddress orders.ShippingAddress
	PaymentMethod   string
}

func (c *Coordinator) CreateOrder(ctx context.Context, in CreateOrderInput) (orders.Order, error) {
	ctx, span := tracer.Start(ctx, "inventory.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", in.UserID))

	now := c.now()
	var created orders.Order
	err := c.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		cart, err := tx.LoadCart(ctx, in.UserID)
		if err != nil {
			return err
		}
		if len(cart) == 0 {
			return orders.ErrEmptyCart
		}

		ids := make([]string, 0, len(cart))
		for _, l := range cart {
			ids = append(ids, l.ProductID)
		}
		products, err := tx.Products(ctx, ids)
		if err != nil {
			return err
		}

		// 1-2: check availability and snapshot the lines.
		items := make([]orders.LineItem, 0, len(cart))
		total := decimal.Zero
		for _, l := range cart {
			if l.Quantity <= 0 {
				return fmt.Errorf("product %s: %w", l.ProductID, orders.ErrInvalidQuantity)
			}
			p, ok := products[l.ProductID]
			if !ok {
				return fmt.Errorf("product %s: %w", l.ProductID, orders.ErrNotFound)
			}
			if l.Quantity > p.Available() {
				return insufficient(p, p.Available())
			}
			image := p.Image
			if image == "" {
				image = orders.DefaultItemImage
			}
			items = append(items, orders.LineItem{
				ProductID: p.ID,
				Name:      p.Name,
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
				Image:     image,
			})
			total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}

		// 3: conditional reserve, in product id order so concurrent units
		// lock rows in the same sequence.
		byID := append([]orders.LineItem(nil), items...)
		sort.Slice(byID, func(i, j int) bool { return byID[i].ProductID < byID[j].ProductID })
		for _, it := range byID {
			available, ok, err := tx.Reserve(ctx, it.ProductID, it.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return insufficient(products[it.ProductID], available)
			}
		}

		// 4-5
		created = orders.Order{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			Items:           items,
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   in.PaymentMethod,
			TotalPrice:      total,
			Status:          orders.StatusPending,
			CreatedAt:       now,
			ExpiresAt:       now.Add(c.ttl()),
		}
		if err := tx.InsertOrder(ctx, created); err != nil {
			return err
		}
		return tx.ClearCart(ctx, in.UserID)
	})
	if err != nil {
		c.Metrics.ReservationFailed(failureReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return orders.Order{}, err
	}

	c.Metrics.Created()
	span.SetAttributes(attribute.String("order.id", created.ID))
	c.log().Info("order created",
		zap.String("order_id", created.ID),
		zap.String("user_id", created.UserID),
		zap.Int("lines", len(created.Items)),
		zap.String("total", created.TotalPrice.String()),
	)
	c.publishCreated(ctx, created)
	return created, nil
}

func (c *Coordinator) publishCreated(ctx context.Context, o orders.Order) {
	if c.Events == nil {
		return
	}
	env, err := orders.NewEnvelope(orders.EventOrderCreated, c.ServiceName, o.ID, orders.OrderCreatedPayload{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Items:      orders.ItemsOf(o),
		TotalPrice: o.TotalPrice,
		ExpiresAt:  o.ExpiresAt,
	})
	if err == nil {
		err = c.Events.PublishEvent(ctx, orders.TopicOrderCreated, env)
	}
	if err != nil {
		c.log().Warn("publish order created", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func insufficient(p orders.Product, available int) error {
	return &orders.InsufficientStockError{
		ProductID:   p.ID,
		ProductName: p.Name,
		Available:   max(available, 0),
	}
}

func failureReason(err error) string {
	var stock *orders.InsufficientStockError
	switch {
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.Is(err, orders.ErrValidation):
		return "validation"
	case errors.Is(err, orders.ErrNotFound):
		return "not_found"
	case errors.Is(err, orders.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

func (c *Coordinator) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultOrderTTL
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Coordinator) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}
