package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultTxTimeout = 5 * time.Second

// PGStore is the PostgreSQL Store. Units of work run at READ COMMITTED; the
// stock guard lives in the UPDATE itself and order transitions hold the
// order row with FOR UPDATE.
type PGStore struct {
	DB        *pgxpool.Pool
	TxTimeout time.Duration
}

type pgTx struct{ tx pgx.Tx }

const orderColumns = `id, user_id, shipping_address, payment_method, total_price, status,
	payment_result, created_at, expires_at, paid_at`

func (s *PGStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	timeout := s.TxTimeout
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *PGStore) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return Order{}, classify("get order", err)
	}
	items, err := loadItems(ctx, s.DB, []string{id})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (s *PGStore) ListOrdersByUser(ctx context.Context, userID string, page, pageSize int) ([]Order, int, error) {
	offset, err := PageOffset(page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, classify("count orders", err)
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, userID, pageSize, offset)
	if err != nil {
		return nil, 0, classify("list orders", err)
	}
	defer rows.Close()

	var out []Order
	ids := make([]string, 0, pageSize)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, classify("scan order", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list orders", err)
	}
	items, err := loadItems(ctx, s.DB, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, total, nil
}

func (s *PGStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM orders
		WHERE status='pending' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, classify("list expired", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("list expired", err)
	}
	return ids, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, shipping_address, payment_method, total_price, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.UserID, o.ShippingAddress, o.PaymentMethod, o.TotalPrice, o.Status.String(), o.CreatedAt, o.ExpiresAt)
	if err != nil {
		return classify("insert order", err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(`INSERT INTO order_items(order_id, line_no, product_id, name, quantity, unit_price, image)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, i, it.ProductID, it.Name, it.Quantity, it.UnitPrice, it.Image)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify("insert order items", err)
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, classify("lock order", err)
	}
	items, err := loadItems(ctx, t.tx, []string{id})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (t *pgTx) Complete(ctx context.Context, id string, res PaymentResult, paidAt time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status='completed', payment_result=$2, paid_at=$3
		WHERE id=$1 AND status='pending'`, id, res, paidAt)
	if err != nil {
		return classify("complete order", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("complete order %s: %w", id, ErrConflict)
	}
	return nil
}

func (t *pgTx) Cancel(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status='cancelled' WHERE id=$1 AND status='pending'`, id)
	if err != nil {
		return classify("cancel order", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("cancel order %s: %w", id, ErrConflict)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]LineItem, error) {
	out := make(map[string][]LineItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT order_id, product_id, name, quantity, unit_price, image
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`, orderIDs)
	if err != nil {
		return nil, classify("load items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var orderID string
		var it LineItem
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice, &it.Image); err != nil {
			return nil, classify("scan item", err)
		}
		out[orderID] = append(out[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load items", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ShippingAddress, &o.PaymentMethod, &o.TotalPrice, &status,
		&o.PaymentResult, &o.CreatedAt, &o.ExpiresAt, &o.PaidAt)
	if err != nil {
		return Order{}, err
	}
	if o.Status, err = ParseStatus(status); err != nil {
		return Order{}, err
	}
	return o, nil
}

// classify maps driver errors onto the package taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.Message)
		}
	}
	return Internal(op, err)
}
