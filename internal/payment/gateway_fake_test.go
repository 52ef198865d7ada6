package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

type fakeGateway struct {
	mu             sync.Mutex
	payments       map[string]Payment
	merchantOrders map[string]MerchantOrder
	err            error
	lookups        int
	lastPreference PreferenceRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]Payment{}, merchantOrders: map[string]MerchantOrder{}}
}

func (g *fakeGateway) GetPayment(_ context.Context, id string) (Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	if g.err != nil {
		return Payment{}, g.err
	}
	p, ok := g.payments[id]
	if !ok {
		return Payment{}, fmt.Errorf("payment %s: %w", id, orders.ErrNotFound)
	}
	return p, nil
}

func (g *fakeGateway) GetMerchantOrder(_ context.Context, id string) (MerchantOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return MerchantOrder{}, g.err
	}
	mo, ok := g.merchantOrders[id]
	if !ok {
		return MerchantOrder{}, fmt.Errorf("merchant order %s: %w", id, orders.ErrNotFound)
	}
	return mo, nil
}

func (g *fakeGateway) CreatePreference(_ context.Context, req PreferenceRequest) (Preference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return Preference{}, g.err
	}
	g.lastPreference = req
	return Preference{ID: "pref-1", InitPoint: "https://checkout.example/pref-1"}, nil
}

func gwPayment(id, status, orderID string) Payment {
	p := Payment{ID: FlexID(id), Status: status, ExternalReference: orderID, DateLastUpdated: "2025-03-01T10:01:00Z"}
	p.Payer.Email = "buyer@example.com"
	return p
}
