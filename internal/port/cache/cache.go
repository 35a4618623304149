// Package cache defines the port interface for caching serialized records.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
// A miss is reported as found=false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RecordKey is the cache key of a memory record. Keys use only characters
// that are valid in NATS KV keys.
func RecordKey(id string) string {
	return "memory." + id
}
