package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LoadCart locks the user's cart rows so two checkouts of the same cart
// serialize on them.
func (t *pgTx) LoadCart(ctx context.Context, userID string) ([]CartLine, error) {
	rows, err := t.tx.Query(ctx, `SELECT product_id, quantity, unit_price FROM cart_items
		WHERE user_id=$1 ORDER BY product_id FOR UPDATE`, userID)
	if err != nil {
		return nil, classify("load cart", err)
	}
	defer rows.Close()

	var out []CartLine
	for rows.Next() {
		var l CartLine
		if err := rows.Scan(&l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, classify("scan cart", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load cart", err)
	}
	return out, nil
}

func (t *pgTx) ClearCart(ctx context.Context, userID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID); err != nil {
		return classify("clear cart", err)
	}
	return nil
}

func (t *pgTx) Products(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name, COALESCE(image, ''), stock, reserved
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, classify("load products", err)
	}
	defer rows.Close()

	out := make(map[string]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Image, &p.Stock, &p.Reserved); err != nil {
			return nil, classify("scan product", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load products", err)
	}
	return out, nil
}

// Reserve is a single conditional UPDATE: the availability check and the
// write happen under the same row lock, so there is no read-then-write gap.
func (t *pgTx) Reserve(ctx context.Context, productID string, qty int) (int, bool, error) {
	var available int
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, reserved = reserved + $2, updated_at = now()
		WHERE id=$1 AND stock - reserved >= $2
		RETURNING stock - reserved`, productID, qty).Scan(&available)
	if err == nil {
		return available, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, classify("reserve", err)
	}

	// Guard rejected: report what is there now.
	err = t.tx.QueryRow(ctx, `SELECT stock - reserved FROM products WHERE id=$1`, productID).Scan(&available)
	if err != nil {
		return 0, false, classify("reserve", err)
	}
	return available, false, nil
}

func (t *pgTx) Release(ctx context.Context, productID string, qty int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET reserved = reserved - $2, updated_at = now()
		WHERE id=$1 AND reserved >= $2`, productID, qty)
	if err != nil {
		return classify("release", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	return t.missingOrUnderflow(ctx, "release", productID, qty)
}

func (t *pgTx) Restock(ctx context.Context, productID string, qty int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock + $2, reserved = reserved - $2, updated_at = now()
		WHERE id=$1 AND reserved >= $2`, productID, qty)
	if err != nil {
		return classify("restock", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	return t.missingOrUnderflow(ctx, "restock", productID, qty)
}

// A product deleted from the catalog holds nothing, so there is nothing to
// give back. An existing row with reserved < qty means the counters drifted.
func (t *pgTx) missingOrUnderflow(ctx context.Context, op, productID string, qty int) error {
	var reserved int
	err := t.tx.QueryRow(ctx, `SELECT reserved FROM products WHERE id=$1`, productID).Scan(&reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return classify(op, err)
	}
	return Internal(op, fmt.Errorf("product %s reserved=%d below %d", productID, reserved, qty))
}
