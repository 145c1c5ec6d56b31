package aside

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-aside/v1/codec"
	"github.com/mirkobrombin/go-aside/v1/events"
	"github.com/mirkobrombin/go-aside/v1/lock"
	"github.com/mirkobrombin/go-aside/v1/metrics"
	"github.com/mirkobrombin/go-aside/v1/store"
)

const (
	tracerName = "github.com/mirkobrombin/go-aside/v1/aside"

	defaultReleaseTimeout = 2 * time.Second

	// outcomeError labels failed calls in the outcome counter.
	outcomeError = "error"
)

// Outcome says how a call ended.
type Outcome string

const (
	// OutcomeHit means the value came from the store.
	OutcomeHit Outcome = "hit"
	// OutcomeProduced means this call held the lock and ran the producer.
	OutcomeProduced Outcome = "produced"
	// OutcomeUnavailable means the lock stayed contended for every attempt
	// and no value is available.
	OutcomeUnavailable Outcome = "unavailable"
)

// Result is a value together with how it was obtained.
type Result[T any] struct {
	Value   T
	Outcome Outcome
}

// Producer computes the value for a missing key. It may block or perform
// I/O; it is not given a deadline beyond ctx.
type Producer[T any] func(ctx context.Context) (T, error)

type acquireFunc func(ctx context.Context, key string) (*lock.Handle, error)

// Cache runs get-or-populate calls for values of type T.
type Cache[T any] struct {
	store          store.Store
	locks          *lock.Coordinator
	codec          codec.Codec[T]
	log            *zap.Logger
	metrics        *metrics.Collectors
	tracer         trace.Tracer
	events         events.Publisher
	releaseTimeout time.Duration
}

// New returns a Cache reading and writing s and serializing producers
// through locks.
func New[T any](s store.Store, locks *lock.Coordinator, opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		store:          s,
		locks:          locks,
		codec:          codec.JSON[T]{},
		log:            zap.NewNop(),
		tracer:         otel.Tracer(tracerName),
		releaseTimeout: defaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrSet returns the cached value for key, producing and storing it with
// ttl on a miss. When the lock cannot be obtained it returns the zero value
// and a nil error; use Fetch to tell that case apart.
func (c *Cache[T]) GetOrSet(ctx context.Context, key string, produce Producer[T], ttl time.Duration) (T, error) {
	res, err := c.Fetch(ctx, key, produce, ttl)
	return res.Value, err
}

// Fetch is GetOrSet reporting the outcome.
func (c *Cache[T]) Fetch(ctx context.Context, key string, produce Producer[T], ttl time.Duration) (Result[T], error) {
	return c.fetch(ctx, key, produce, ttl, c.locks.Acquire)
}

// GetOrSetAsync runs GetOrSet on its own goroutine, parking on timers
// instead of sleeping while the lock is contended.
func (c *Cache[T]) GetOrSetAsync(ctx context.Context, key string, produce Producer[T], ttl time.Duration) *Future[T] {
	f := newFuture[T]()
	go func() {
		res, err := c.fetch(ctx, key, produce, ttl, c.acquireSuspending)
		f.resolve(res.Value, err)
	}()
	return f
}

// FetchAsync is GetOrSetAsync reporting the outcome.
func (c *Cache[T]) FetchAsync(ctx context.Context, key string, produce Producer[T], ttl time.Duration) *Future[Result[T]] {
	f := newFuture[Result[T]]()
	go func() {
		f.resolve(c.fetch(ctx, key, produce, ttl, c.acquireSuspending))
	}()
	return f
}

func (c *Cache[T]) acquireSuspending(ctx context.Context, key string) (*lock.Handle, error) {
	acq := <-c.locks.AcquireAsync(ctx, key)
	return acq.Handle, acq.Err
}

func (c *Cache[T]) fetch(ctx context.Context, key string, produce Producer[T], ttl time.Duration, acquire acquireFunc) (res Result[T], err error) {
	switch {
	case key == "":
		return res, lock.ErrEmptyKey
	case produce == nil:
		return res, ErrNilProducer
	case ttl <= 0:
		return res, ErrInvalidTTL
	}

	ctx, span := c.tracer.Start(ctx, "aside.GetOrSet", trace.WithAttributes(attribute.String("aside.key", key)))
	start := time.Now()
	defer func() {
		c.metrics.Observe(metrics.OpGetOrSet, time.Since(start))
		if err != nil {
			c.metrics.Outcome(outcomeError)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			c.metrics.Outcome(string(res.Outcome))
			span.SetAttributes(attribute.String("aside.outcome", string(res.Outcome)))
			c.publish(ctx, key, res.Outcome)
		}
		span.End()
	}()

	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return res, fmt.Errorf("aside: store get %q: %w", key, err)
	}
	if ok {
		v, err := c.codec.Decode(data)
		if err != nil {
			return res, &DecodeError{Key: key, Err: err}
		}
		return Result[T]{Value: v, Outcome: OutcomeHit}, nil
	}

	h, err := acquire(ctx, key)
	if err != nil {
		return res, err
	}
	defer c.release(ctx, h)
	if !h.Acquired {
		return Result[T]{Outcome: OutcomeUnavailable}, nil
	}

	v, err := produce(ctx)
	if err != nil {
		c.metrics.ProducerFailed()
		return res, err
	}
	payload, err := c.codec.Encode(v)
	if err != nil {
		return res, &EncodeError{Key: key, Err: err}
	}
	if err := c.store.Set(ctx, key, payload, ttl); err != nil {
		return res, fmt.Errorf("aside: store set %q: %w", key, err)
	}
	return Result[T]{Value: v, Outcome: OutcomeProduced}, nil
}

// release frees h even when ctx is already cancelled.
func (c *Cache[T]) release(ctx context.Context, h *lock.Handle) {
	if !h.Acquired {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
	defer cancel()
	if err := h.Release(rctx); err != nil {
		c.log.Warn("lock release failed", zap.String("key", h.Key), zap.Error(err))
	}
}

func (c *Cache[T]) publish(ctx context.Context, key string, outcome Outcome) {
	if c.events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
	defer cancel()
	if err := c.events.Publish(pctx, events.New(key, string(outcome))); err != nil {
		c.log.Warn("event publish failed", zap.String("key", key), zap.Error(err))
	}
}
