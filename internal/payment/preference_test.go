package payment

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/ariefcatur/go-order-lifecycle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckout(s orders.Store, g Gateway) *Checkout {
	return &Checkout{
		Store:         s,
		Gateway:       g,
		PaymentMethod: "MercadoPago",
		Currency:      "ARS",
		FrontendURL:   "https://shop.example/",
		BackendURL:    "https://api.shop.example",
	}
}

func TestCreatePreference(t *testing.T) {
	s := scenarioB(t)
	g := newFakeGateway()

	p, err := newCheckout(s, g).CreatePreference(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, "pref-1", p.ID)
	assert.NotEmpty(t, p.InitPoint)

	req := g.lastPreference
	assert.Equal(t, "o1", req.ExternalReference)
	assert.Equal(t, "https://api.shop.example/api/orders/webhook/mercadopago", req.NotificationURL)
	assert.Equal(t, BackURLs{
		Success: "https://shop.example/orden/o1",
		Failure: "https://shop.example/orden/o1",
		Pending: "https://shop.example/orden/o1",
	}, req.BackURLs)
	require.Len(t, req.Items, 1)
	assert.Equal(t, PreferenceItem{
		ID: "p1", Title: "p1", Description: "p1", PictureURL: orders.DefaultItemImage,
		Quantity: 3, UnitPrice: 10, CurrencyID: "ARS",
	}, req.Items[0])
}

func TestCreatePreference_Eligibility(t *testing.T) {
	s := scenarioB(t)
	testutil.SeedPending(t, s, "cash", "u1", "p1", 1, fixedNow.Add(time.Hour))
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.LockOrder(ctx, "cash")
		if err != nil {
			return err
		}
		o.ID = "cash-2"
		o.PaymentMethod = "Cash"
		return tx.InsertOrder(ctx, o)
	}))
	co := newCheckout(s, newFakeGateway())
	ctx := context.Background()

	_, err := co.CreatePreference(ctx, "someone-else", "o1")
	assert.ErrorIs(t, err, orders.ErrUnauthorized)

	_, err = co.CreatePreference(ctx, "u1", "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)

	_, err = co.CreatePreference(ctx, "u1", "cash-2")
	assert.ErrorIs(t, err, orders.ErrValidation)

	c, _ := newConfirmer(s)
	_, _, err = c.Confirm(ctx, approved("o1"))
	require.NoError(t, err)
	_, err = co.CreatePreference(ctx, "u1", "o1")
	assert.ErrorIs(t, err, orders.ErrValidation)
}

func TestCreatePreference_GatewayFailure(t *testing.T) {
	s := scenarioB(t)
	g := newFakeGateway()
	g.err = ErrGatewayUnavailable

	_, err := newCheckout(s, g).CreatePreference(context.Background(), "u1", "o1")
	assert.ErrorIs(t, err, orders.ErrExternalService)
}
