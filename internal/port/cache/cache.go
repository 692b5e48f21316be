// Package cache defines the port interface for key-value caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface used by the service resolver for address
// caching. Entries have no TTL semantics beyond explicit invalidation; a zero
// ttl means "keep until deleted or evicted".
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
