package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

// Checkout builds gateway checkout sessions for pending orders.
type Checkout struct {
	Store         orders.Store
	Gateway       Gateway
	PaymentMethod string
	Currency      string
	FrontendURL   string
	BackendURL    string
}

func (c *Checkout) CreatePreference(ctx context.Context, userID, orderID string) (Preference, error) {
	o, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Preference{}, err
	}
	if o.UserID != userID {
		return Preference{}, fmt.Errorf("order %s: %w", orderID, orders.ErrUnauthorized)
	}
	if o.Status != orders.StatusPending {
		return Preference{}, fmt.Errorf("%w: order %s is not pending payment", orders.ErrValidation, orderID)
	}
	if o.PaymentMethod != c.PaymentMethod {
		return Preference{}, fmt.Errorf("%w: order %s is not paid with %s", orders.ErrValidation, orderID, c.PaymentMethod)
	}

	items := make([]PreferenceItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, PreferenceItem{
			ID:          it.ProductID,
			Title:       it.Name,
			Description: it.Name,
			PictureURL:  it.Image,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.InexactFloat64(),
			CurrencyID:  c.Currency,
		})
	}
	back := strings.TrimRight(c.FrontendURL, "/") + "/orden/" + orderID
	pref, err := c.Gateway.CreatePreference(ctx, PreferenceRequest{
		Items:             items,
		BackURLs:          BackURLs{Success: back, Failure: back, Pending: back},
		ExternalReference: orderID,
		NotificationURL:   strings.TrimRight(c.BackendURL, "/") + "/api/orders/webhook/mercadopago",
	})
	if err != nil {
		return Preference{}, fmt.Errorf("create preference for %s: %w", orderID, err)
	}
	return pref, nil
}
