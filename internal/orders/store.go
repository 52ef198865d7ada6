package orders

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Store is the durable home of orders, carts and product counters. Every
// mutation goes through WithinTx: the callback runs as one unit of work that
// commits when it returns nil and rolls back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, id string) (Order, error)
	// ListOrdersByUser pages a user's orders newest first. page is 1-based;
	// a page or size below 1 is ErrValidation.
	ListOrdersByUser(ctx context.Context, userID string, page, pageSize int) ([]Order, int, error)
	// ListExpired returns ids of pending orders with expiresAt <= now, oldest first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Tx is the set of operations available inside one unit of work.
type Tx interface {
	LoadCart(ctx context.Context, userID string) ([]CartLine, error)
	ClearCart(ctx context.Context, userID string) error

	// Products returns the rows for ids keyed by id. Missing ids are absent.
	Products(ctx context.Context, ids []string) (map[string]Product, error)
	// Reserve applies stock -= qty, reserved += qty only when
	// stock - reserved >= qty at the storage layer. ok is false when the
	// guard rejected the update; available is the value it saw.
	Reserve(ctx context.Context, productID string, qty int) (available int, ok bool, err error)
	// Release applies reserved -= qty.
	Release(ctx context.Context, productID string, qty int) error
	// Restock applies stock += qty, reserved -= qty.
	Restock(ctx context.Context, productID string, qty int) error

	InsertOrder(ctx context.Context, o Order) error
	// LockOrder loads the order and holds it against concurrent transitions
	// until the unit of work ends.
	LockOrder(ctx context.Context, id string) (Order, error)
	// Complete moves a pending order to completed. It returns ErrConflict
	// when the order is no longer pending.
	Complete(ctx context.Context, id string, res PaymentResult, paidAt time.Time) error
	// Cancel moves a pending order to cancelled, with the same guard.
	Cancel(ctx context.Context, id string) error
}

// PageOffset returns the row offset of a 1-based page. It fails with
// ErrValidation when either argument is below 1 or the offset overflows int.
func PageOffset(page, pageSize int) (int, error) {
	if page < 1 || pageSize < 1 || page-1 > math.MaxInt/pageSize {
		return 0, fmt.Errorf("%w: page %d of size %d", ErrValidation, page, pageSize)
	}
	return (page - 1) * pageSize, nil
}
