package lock

import (
	"errors"
	"time"
)

const (
	// DefaultExpiry is the lock validity used when none, or a non-positive
	// one, is configured.
	DefaultExpiry = 15 * time.Second
	// DefaultMaxRetries is the default number of acquisition attempts.
	DefaultMaxRetries = 5
	// DefaultRetryDelay is the default pause between two attempts.
	DefaultRetryDelay = 100 * time.Millisecond
)

// RetryPolicy bounds lock acquisition. It is read once at startup.
type RetryPolicy struct {
	// Expiry is how long a granted lock stays valid on the lock service when
	// it is never released.
	Expiry time.Duration
	// MaxRetries is the total number of attempts, at least 1.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
}

// DefaultRetryPolicy returns 15s expiry, 5 attempts and 100ms delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Expiry:     DefaultExpiry,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// Normalize coerces out-of-range values: a non-positive expiry becomes
// DefaultExpiry, fewer than one attempt becomes one, a negative delay
// becomes zero.
func (p RetryPolicy) Normalize() RetryPolicy {
	if p.Expiry <= 0 {
		p.Expiry = DefaultExpiry
	}
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	return p
}

// MaxWait is the time spent waiting when every attempt is contended.
func (p RetryPolicy) MaxWait() time.Duration {
	return time.Duration(p.MaxRetries-1) * p.RetryDelay
}

// Validate rejects policies that Normalize would have to correct.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 1:
		return errors.New("lock: max retries must be at least 1")
	case p.RetryDelay < 0:
		return errors.New("lock: retry delay must not be negative")
	}
	return nil
}
