package lock

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned when a lock is requested for an empty key.
var ErrEmptyKey = errors.New("lock: empty key")

// Locker is a single-attempt lock service with expiring ownership.
type Locker interface {
	// TryLock attempts to take key for ttl without waiting. A lock held by
	// someone else yields ok == false and a nil error. The returned token
	// identifies this ownership for Unlock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Unlock releases key if token still owns it. Releasing a lock that
	// expired or was taken over is a no-op.
	Unlock(ctx context.Context, key, token string) error
}
