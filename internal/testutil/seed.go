package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/shopspring/decimal"
)

// SeedPending stores a pending order for one product line without touching
// product counters; callers set those with PutProduct.
func SeedPending(t testing.TB, s *orders.MemStore, id, userID, productID string, qty int, expiresAt time.Time) orders.Order {
	t.Helper()
	o := orders.Order{
		ID:     id,
		UserID: userID,
		Items: []orders.LineItem{{
			ProductID: productID,
			Name:      productID,
			Quantity:  qty,
			UnitPrice: decimal.NewFromInt(10),
			Image:     orders.DefaultItemImage,
		}},
		PaymentMethod: "MercadoPago",
		TotalPrice:    decimal.NewFromInt(int64(10 * qty)),
		Status:        orders.StatusPending,
		CreatedAt:     expiresAt.Add(-15 * time.Minute),
		ExpiresAt:     expiresAt,
	}
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertOrder(ctx, o)
	})
	if err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
	return o
}
