package lock

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mirkobrombin/go-aside/v1/logger"
	"github.com/mirkobrombin/go-aside/v1/metrics"
)

// lockPrefix keeps lock names apart from cache entries sharing a keyspace.
const lockPrefix = "lock:"

// waitFunc parks the caller for d between two attempts.
type waitFunc func(ctx context.Context, d time.Duration) error

// blockingWait holds the calling goroutine for the whole delay and observes
// cancellation once the delay is over.
func blockingWait(ctx context.Context, d time.Duration) error {
	time.Sleep(d)
	return ctx.Err()
}

// suspendingWait parks on a timer and wakes early on cancellation.
func suspendingWait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Coordinator grants per-key exclusive locks with bounded retry.
type Coordinator struct {
	locker  Locker
	policy  RetryPolicy
	log     *zap.Logger
	metrics *metrics.Collectors
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for acquisition events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		c.log = logger.OrNop(l)
	}
}

// WithMetrics records every attempt on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator returns a Coordinator over locker. The policy is
// normalized, so a zero policy yields 15s expiry and a single attempt.
func NewCoordinator(locker Locker, policy RetryPolicy, opts ...Option) *Coordinator {
	c := &Coordinator{
		locker: locker,
		policy: policy.Normalize(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the effective retry policy.
func (c *Coordinator) Policy() RetryPolicy {
	return c.policy
}

// Acquire tries to lock key, sleeping RetryDelay between contended
// attempts. Exhausting every attempt returns a handle with Acquired ==
// false and a nil error. Lock service failures are returned immediately.
func (c *Coordinator) Acquire(ctx context.Context, key string) (*Handle, error) {
	return c.acquire(ctx, key, blockingWait)
}

// Acquisition is delivered by AcquireAsync.
type Acquisition struct {
	Handle *Handle
	Err    error
}

// AcquireAsync runs the same attempts as Acquire on a separate goroutine and
// delivers the outcome on the returned channel, which receives exactly one
// value. The receiver owns the handle and must release it.
func (c *Coordinator) AcquireAsync(ctx context.Context, key string) <-chan Acquisition {
	ch := make(chan Acquisition, 1)
	go func() {
		h, err := c.acquire(ctx, key, suspendingWait)
		ch <- Acquisition{Handle: h, Err: err}
	}()
	return ch
}

func (c *Coordinator) acquire(ctx context.Context, key string, wait waitFunc) (*Handle, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpAcquire, time.Since(start)) }()

	h := &Handle{Key: key, name: lockPrefix + key, locker: c.locker}
	for attempt := 1; ; attempt++ {
		token, ok, err := c.locker.TryLock(ctx, h.name, c.policy.Expiry)
		if err != nil {
			c.metrics.LockAttempt(metrics.LockError)
			return nil, fmt.Errorf("lock: acquire %q: %w", key, err)
		}
		if ok {
			c.metrics.LockAttempt(metrics.LockAcquired)
			h.Acquired = true
			h.token = token
			c.log.Debug("lock acquired", zap.String("key", key), zap.Int("attempt", attempt))
			return h, nil
		}
		c.metrics.LockAttempt(metrics.LockContended)
		if attempt >= c.policy.MaxRetries {
			break
		}
		if err := wait(ctx, c.policy.RetryDelay); err != nil {
			return nil, err
		}
	}
	c.log.Info("lock not acquired",
		zap.String("key", key),
		zap.Int("attempts", c.policy.MaxRetries),
		zap.Duration("waited", time.Since(start)),
	)
	return h, nil
}
