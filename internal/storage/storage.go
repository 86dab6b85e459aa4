// Package storage holds the key/value handles the inspector backend persists
// package metadata and lint results into.
//
// Every backend implements Cache. Handles are namespaced by a key prefix so
// several of them can share one Redis database or one SQL table.
package storage

import (
	"context"
	"errors"
	"time"
)

// Well-known handle names passed to the inspector backend.
const (
	NpmMeta = "npm-meta"
	Publint = "publint"
)

// Cache defines the interface for all storage backends
type Cache interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache
	Delete(ctx context.Context, key string) error

	// Clear removes all values under this handle's prefix
	Clear(ctx context.Context) error

	// Exists checks if a key exists in the cache
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the backend's resources
	Close() error
}

// CacheConfig holds common configuration for storage backends
type CacheConfig struct {
	// DefaultTTL is used when Set is called with a zero TTL. A negative
	// value stores entries without expiration.
	DefaultTTL time.Duration
	// Prefix is prepended to all keys
	Prefix string
}

// DefaultCacheConfig returns the configuration for the named handle
func DefaultCacheConfig(name string) CacheConfig {
	return CacheConfig{
		DefaultTTL: -1,
		Prefix:     "modinspect:" + name + ":",
	}
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	var miss ErrCacheMiss
	return errors.As(err, &miss)
}

// expiry converts a TTL into an absolute expiration, zero meaning none.
func (c CacheConfig) expiry(ttl time.Duration) time.Time {
	if ttl == 0 {
		ttl = c.DefaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
