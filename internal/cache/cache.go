// Package cache is the key-value backend with per-key TTL shared by the ledger and
// the pending-response store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxEntrySize bounds a single value (100 KiB).
const DefaultMaxEntrySize = 100 * 1024

// ErrEntryTooLarge is returned by Set when a value exceeds the backend's max entry size.
var ErrEntryTooLarge = errors.New("cache: entry too large")

// Cache is a key-value store with per-key TTL. Absent and expired keys are indistinguishable.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Expire resets the TTL of an existing key; false if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// Take atomically reads and deletes key.
	Take(ctx context.Context, key string) ([]byte, bool, error)
	Ping(ctx context.Context) error
}

func checkEntry(key string, value []byte, ttl time.Duration, maxSize int) error {
	if key == "" {
		return errors.New("cache: empty key")
	}
	if ttl <= 0 {
		return fmt.Errorf("cache: non-positive ttl %s", ttl)
	}
	if maxSize > 0 && len(value) > maxSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrEntryTooLarge, len(value), maxSize)
	}
	return nil
}
