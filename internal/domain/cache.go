package domain

import (
	"context"
	"time"
)

// Cache is a byte-value key/value store with TTLs and atomic counters.
// The Reference Cache (internal/refcache) and the rule handlers do not
// use it: refcache reads the Repository directly and handlers tally from
// the in-memory record batch. LRUCache backs the Standalone tier,
// RedisCache and TwoPhaseCache back the Cluster tier.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// IncrementCounter atomically increments a counter and returns the
	// new value, creating the key with the given window as its TTL on
	// first use.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig configures cache construction.
type CacheConfig struct {
	Type string // "lru" | "redis" | "two-phase"

	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EnableTwoPhase bool
}
