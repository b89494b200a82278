package cache

import (
	"context"
	"time"
)

// Backend is one cache tier. The in-process Store and the Redis tier both
// implement it, so the Invalidator can treat them alike.
type Backend interface {
	// Get returns a copy of the value and whether it was present and not expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a copy of value with ttl, replacing any previous entry and
	// all of its tag associations.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error

	// Delete removes a key if present. Absent keys are not an error.
	Delete(ctx context.Context, key string) error

	// RemoveMatching removes every key that matches a pattern directly or
	// carries a tag that matches one, and returns the removed keys.
	RemoveMatching(ctx context.Context, patterns []*Pattern) ([]string, error)

	// Flush removes all entries and tags, returning how many entries were dropped.
	Flush(ctx context.Context) (int, error)

	// Close releases resources held by the tier.
	Close() error
}

// SetOptions controls a Set call.
type SetOptions struct {
	// TTL <= 0 selects the service default.
	TTL time.Duration

	// Tags group entries for invalidation. They are never used for reads.
	Tags []string
}
