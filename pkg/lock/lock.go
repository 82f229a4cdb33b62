// Package lock provides an advisory distributed lock on Redis
// set-if-absent with TTL. The lock self-expires if the holder crashes,
// trading strict exclusivity across a crash window for availability.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sentinel = "locked"

// Lock acquires and releases TTL-bounded advisory locks.
type Lock struct {
	client *redis.Client
}

// New creates a distributed lock backed by the given Redis client.
func New(client *redis.Client) *Lock {
	return &Lock{client: client}
}

// Acquire atomically sets key to a sentinel value with the given expiry,
// only if the key is absent. Returns true when the lock was acquired.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, sentinel, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the key unconditionally. Callers must release in a
// deferred block regardless of outcome.
func (l *Lock) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("lock release %s: %w", key, err)
	}
	return nil
}
