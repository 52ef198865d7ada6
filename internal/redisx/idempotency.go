package redisx

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const claimPlaceholder = "-"

// ErrInFlight means another request with the same key has not finished yet.
var ErrInFlight = errors.New("idempotency key in flight")

// Idempotency remembers which order an Idempotency-Key produced.
type Idempotency struct {
	RDB redis.UniversalClient
}

// Claim reserves key for userID. When the key already produced an order its
// id is returned with claimed=false.
func (i *Idempotency) Claim(ctx context.Context, userID, key string) (orderID string, claimed bool, err error) {
	k := idemKey(userID, key)
	ok, err := i.RDB.SetNX(ctx, k, claimPlaceholder, TTLClaim).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := i.RDB.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between SetNX and Get
		return i.Claim(ctx, userID, key)
	case err != nil:
		return "", false, err
	case v == claimPlaceholder:
		return "", false, ErrInFlight
	}
	return v, false, nil
}

// Complete binds a claimed key to the order it produced.
func (i *Idempotency) Complete(ctx context.Context, userID, key, orderID string) error {
	return i.RDB.Set(ctx, idemKey(userID, key), orderID, TTLIdempotency).Err()
}

// Abandon frees a claim after a failed attempt so the client may retry.
func (i *Idempotency) Abandon(ctx context.Context, userID, key string) error {
	return i.RDB.Del(ctx, idemKey(userID, key)).Err()
}
