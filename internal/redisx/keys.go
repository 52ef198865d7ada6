package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent create: idem:order:create:{user_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Snapshot of a finished order: order:{order_id} -> order JSON
	KeyOrder = "order:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 10 * time.Minute
	// An in-flight claim that is never resolved frees itself after this.
	TTLClaim = 30 * time.Second
)

func idemKey(userID, key string) string { return fmt.Sprintf(KeyIdemOrderCreate, userID, key) }
func orderKey(id string) string         { return fmt.Sprintf(KeyOrder, id) }
