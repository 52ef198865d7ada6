package orders

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"
)

// MemStore is an in-process Store for local runs and tests. A unit of work
// holds the store exclusively, runs against a private copy and swaps the
// copy in on commit, so a failed unit leaves nothing behind.
type MemStore struct {
	sem       chan struct{}
	state     memState
	TxTimeout time.Duration
}

type memState struct {
	products map[string]Product
	carts    map[string][]CartLine
	orders   map[string]Order
}

func NewMemStore() *MemStore {
	return &MemStore{
		sem: make(chan struct{}, 1),
		state: memState{
			products: map[string]Product{},
			carts:    map[string][]CartLine{},
			orders:   map[string]Order{},
		},
	}
}

func (s *MemStore) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return Internal("acquire", ctx.Err())
	}
}

func (s *MemStore) release() { <-s.sem }

func (s *MemStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	timeout := s.TxTimeout
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: &work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Internal("commit", err)
	}
	s.state = work
	return nil
}

func (s *MemStore) GetOrder(ctx context.Context, id string) (Order, error) {
	if err := s.acquire(ctx); err != nil {
		return Order{}, err
	}
	defer s.release()
	o, ok := s.state.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("get order %s: %w", id, ErrNotFound)
	}
	return o.clone(), nil
}

func (s *MemStore) ListOrdersByUser(ctx context.Context, userID string, page, pageSize int) ([]Order, int, error) {
	offset, err := PageOffset(page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	if err := s.acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer s.release()

	var mine []Order
	for _, o := range s.state.orders {
		if o.UserID == userID {
			mine = append(mine, o.clone())
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		if !mine[i].CreatedAt.Equal(mine[j].CreatedAt) {
			return mine[i].CreatedAt.After(mine[j].CreatedAt)
		}
		return mine[i].ID < mine[j].ID
	})
	total := len(mine)
	from := min(offset, total)
	to := from + min(pageSize, total-from)
	return mine[from:to], total, nil
}

func (s *MemStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var expired []Order
	for _, o := range s.state.orders {
		if o.Expired(now) {
			expired = append(expired, o)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	ids := make([]string, 0, len(expired))
	for _, o := range expired {
		if len(ids) == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// PutProduct creates or replaces a product row.
func (s *MemStore) PutProduct(p Product) {
	s.sem <- struct{}{}
	defer s.release()
	s.state.products[p.ID] = p
}

func (s *MemStore) Product(id string) (Product, bool) {
	s.sem <- struct{}{}
	defer s.release()
	p, ok := s.state.products[id]
	return p, ok
}

// SetCart replaces the user's cart.
func (s *MemStore) SetCart(userID string, lines []CartLine) {
	s.sem <- struct{}{}
	defer s.release()
	s.state.carts[userID] = append([]CartLine(nil), lines...)
}

func (s *MemStore) Cart(userID string) []CartLine {
	s.sem <- struct{}{}
	defer s.release()
	return append([]CartLine(nil), s.state.carts[userID]...)
}

// Orders returns a copy of every stored order.
func (s *MemStore) Orders() []Order {
	s.sem <- struct{}{}
	defer s.release()
	out := make([]Order, 0, len(s.state.orders))
	for _, o := range s.state.orders {
		out = append(out, o.clone())
	}
	return out
}

func (st memState) clone() memState {
	c := memState{
		products: maps.Clone(st.products),
		carts:    make(map[string][]CartLine, len(st.carts)),
		orders:   make(map[string]Order, len(st.orders)),
	}
	for k, v := range st.carts {
		c.carts[k] = append([]CartLine(nil), v...)
	}
	for k, v := range st.orders {
		c.orders[k] = v.clone()
	}
	return c
}

func (o Order) clone() Order {
	o.Items = append([]LineItem(nil), o.Items...)
	if o.PaymentResult != nil {
		pr := *o.PaymentResult
		o.PaymentResult = &pr
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		o.PaidAt = &t
	}
	return o
}

type memTx struct{ st *memState }

func (t *memTx) LoadCart(_ context.Context, userID string) ([]CartLine, error) {
	lines := append([]CartLine(nil), t.st.carts[userID]...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (t *memTx) ClearCart(_ context.Context, userID string) error {
	delete(t.st.carts, userID)
	return nil
}

func (t *memTx) Products(_ context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) Reserve(_ context.Context, productID string, qty int) (int, bool, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return 0, false, fmt.Errorf("reserve %s: %w", productID, ErrNotFound)
	}
	if p.Available() < qty {
		return p.Available(), false, nil
	}
	p.Stock -= qty
	p.Reserved += qty
	t.st.products[productID] = p
	return p.Available(), true, nil
}

func (t *memTx) Release(_ context.Context, productID string, qty int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return nil
	}
	if p.Reserved < qty {
		return Internal("release", fmt.Errorf("product %s reserved=%d below %d", productID, p.Reserved, qty))
	}
	p.Reserved -= qty
	t.st.products[productID] = p
	return nil
}

func (t *memTx) Restock(_ context.Context, productID string, qty int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return nil
	}
	if p.Reserved < qty {
		return Internal("restock", fmt.Errorf("product %s reserved=%d below %d", productID, p.Reserved, qty))
	}
	p.Stock += qty
	p.Reserved -= qty
	t.st.products[productID] = p
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o Order) error {
	if _, dup := t.st.orders[o.ID]; dup {
		return Internal("insert order", fmt.Errorf("duplicate id %s", o.ID))
	}
	t.st.orders[o.ID] = o.clone()
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("lock order %s: %w", id, ErrNotFound)
	}
	return o.clone(), nil
}

func (t *memTx) Complete(_ context.Context, id string, res PaymentResult, paidAt time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return fmt.Errorf("complete order %s: %w", id, ErrNotFound)
	}
	if !CanTransition(o.Status, StatusCompleted) {
		return fmt.Errorf("complete order %s: %w", id, ErrConflict)
	}
	o.Status = StatusCompleted
	o.PaymentResult = &res
	o.PaidAt = &paidAt
	t.st.orders[id] = o
	return nil
}

func (t *memTx) Cancel(_ context.Context, id string) error {
	o, ok := t.st.orders[id]
	if !ok {
		return fmt.Errorf("cancel order %s: %w", id, ErrNotFound)
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return fmt.Errorf("cancel order %s: %w", id, ErrConflict)
	}
	o.Status = StatusCancelled
	t.st.orders[id] = o
	return nil
}
