// Package cache holds computed balance and settlement payloads so hot
// read paths skip the database. Entries carry a TTL as a backstop;
// writers also invalidate explicitly.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque payloads under string keys.
type Cache interface {
	// Get returns the payload and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
