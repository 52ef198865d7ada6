package redisx

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedStore serves GetOrder for completed and cancelled orders from redis.
// Pending orders are never cached: they can still change, terminal ones cannot.
type CachedStore struct {
	orders.Store
	RDB redis.UniversalClient
	Log *zap.Logger
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	if o, ok := s.lookup(ctx, id); ok {
		return o, nil
	}
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return o, err
	}
	if o.Status.Terminal() {
		s.put(ctx, o)
	}
	return o, nil
}

func (s *CachedStore) lookup(ctx context.Context, id string) (orders.Order, bool) {
	var o orders.Order
	b, err := s.RDB.Get(ctx, orderKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log().Warn("order cache get", zap.String("order_id", id), zap.Error(err))
		}
		return o, false
	}
	if err := json.Unmarshal(b, &o); err != nil {
		s.log().Warn("order cache decode", zap.String("order_id", id), zap.Error(err))
		return o, false
	}
	return o, true
}

func (s *CachedStore) put(ctx context.Context, o orders.Order) {
	b, err := json.Marshal(o)
	if err == nil {
		err = s.RDB.Set(ctx, orderKey(o.ID), b, TTLOrderCache).Err()
	}
	if err != nil {
		s.log().Warn("order cache set", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (s *CachedStore) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}
