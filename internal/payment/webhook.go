package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"go.uber.org/zap"
)

const (
	KindPayment       = "payment"
	KindMerchantOrder = "merchant_order"
)

// Notification identifies a gateway event. Nothing else from the inbound
// payload is kept.
type Notification struct {
	Kind       string
	ResourceID string
}

type webhookBody struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  struct {
		ID FlexID `json:"id"`
	} `json:"data"`
	Resource string `json:"resource"`
}

// ParseNotification recognises a payment event ({"type":"payment","data":{"id":..}})
// or a merchant order event ({"topic":"merchant_order","resource":".../{id}"}),
// falling back to the query string forms. ok is false for anything else.
func ParseNotification(body []byte, q url.Values) (Notification, bool) {
	var b webhookBody
	if len(body) > 0 {
		_ = json.Unmarshal(body, &b)
	}

	switch {
	case b.Type == KindPayment && b.Data.ID != "":
		return Notification{Kind: KindPayment, ResourceID: b.Data.ID.String()}, true
	case b.Topic == KindMerchantOrder && b.Resource != "":
		if id := lastSegment(b.Resource); id != "" {
			return Notification{Kind: KindMerchantOrder, ResourceID: id}, true
		}
	case q.Get("type") == KindPayment && q.Get("data.id") != "":
		return Notification{Kind: KindPayment, ResourceID: q.Get("data.id")}, true
	case q.Get("topic") == KindMerchantOrder && q.Get("id") != "":
		return Notification{Kind: KindMerchantOrder, ResourceID: q.Get("id")}, true
	}
	return Notification{}, false
}

func lastSegment(resource string) string {
	if u, err := url.Parse(resource); err == nil && u.Path != "" {
		resource = u.Path
	}
	seg := path.Base(strings.TrimRight(resource, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}

// Handler resolves notifications through the gateway and confirms orders.
type Handler struct {
	Gateway   Gateway
	Confirmer *Confirmer
	Log       *zap.Logger
}

// Resolve fetches the canonical payment behind n. A nil Resolution with a
// nil error means there is nothing to act on.
func (h *Handler) Resolve(ctx context.Context, n Notification) (*Resolution, error) {
	paymentID := n.ResourceID
	switch n.Kind {
	case KindPayment:
	case KindMerchantOrder:
		mo, err := h.Gateway.GetMerchantOrder(ctx, n.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("merchant order %s: %w", n.ResourceID, err)
		}
		if len(mo.Payments) == 0 {
			h.log().Info("merchant order has no payments", zap.String("merchant_order_id", n.ResourceID))
			return nil, nil
		}
		paymentID = mo.Payments[len(mo.Payments)-1].ID.String()
	default:
		return nil, fmt.Errorf("notification kind %q: %w", n.Kind, orders.ErrValidation)
	}

	p, err := h.Gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", paymentID, err)
	}
	if p.ExternalReference == "" {
		h.log().Warn("payment without external reference", zap.String("payment_id", paymentID))
		return nil, nil
	}
	r := &Resolution{
		OrderID:    p.ExternalReference,
		PaymentID:  p.ID.String(),
		Status:     p.Status,
		UpdateTime: p.DateLastUpdated,
		PayerEmail: p.Payer.Email,
	}
	if r.PaymentID == "" {
		r.PaymentID = paymentID
	}
	if p.DateApproved != nil {
		r.ApprovedAt = p.DateApproved.UTC()
	}
	return r, nil
}

// Handle runs one notification end to end. It returns an error only when a
// redelivery of the same notification could succeed; every other outcome is
// reported through Outcome and must be acknowledged.
func (h *Handler) Handle(ctx context.Context, n Notification) (Outcome, error) {
	log := h.log().With(zap.String("kind", n.Kind), zap.String("resource_id", n.ResourceID))

	r, err := h.Resolve(ctx, n)
	switch {
	case errors.Is(err, ErrGatewayUnavailable):
		log.Error("gateway lookup failed", zap.Error(err))
		return OutcomeIgnored, err
	case err != nil:
		log.Warn("gateway lookup unusable", zap.Error(err))
		h.Confirmer.Metrics.PaymentEvent(OutcomeNoPayment.String())
		return OutcomeNoPayment, nil
	case r == nil:
		h.Confirmer.Metrics.PaymentEvent(OutcomeNoPayment.String())
		return OutcomeNoPayment, nil
	}

	log = log.With(zap.String("order_id", r.OrderID), zap.String("payment_status", r.Status))
	_, outcome, err := h.Confirmer.Confirm(ctx, *r)
	if outcome == OutcomeOrderNotFound {
		log.Warn("order not found for payment")
		h.Confirmer.Metrics.PaymentEvent(outcome.String())
		return outcome, nil
	}
	if err != nil {
		log.Error("confirm failed", zap.Error(err))
		h.Confirmer.Metrics.PaymentEvent("error")
		return outcome, err
	}
	log.Info("payment notification handled", zap.Stringer("outcome", outcome))
	h.Confirmer.Metrics.PaymentEvent(outcome.String())
	return outcome, nil
}

func (h *Handler) log() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return zap.NewNop()
}
