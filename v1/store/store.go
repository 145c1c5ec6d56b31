// Package store provides the key-value backends that hold encoded cache
// entries. Every backend enforces per-key absolute expiry itself.
package store

import (
	"context"
	"time"
)

// Store is an opaque GET / SET-with-expiry service.
type Store interface {
	// Get returns the payload stored under key. A missing, expired or empty
	// entry is reported as a miss with a nil error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Close releases resources held by the backend.
	Close() error
}
