package aside

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-aside/v1/codec"
	"github.com/mirkobrombin/go-aside/v1/events"
	"github.com/mirkobrombin/go-aside/v1/logger"
	"github.com/mirkobrombin/go-aside/v1/metrics"
)

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithCodec sets the payload codec. The default is codec.JSON.
func WithCodec[T any](c codec.Codec[T]) Option[T] {
	return func(cc *Cache[T]) {
		if c != nil {
			cc.codec = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(c *Cache[T]) {
		c.log = logger.OrNop(l)
	}
}

// WithMetrics records outcomes and latency on m.
func WithMetrics[T any](m *metrics.Collectors) Option[T] {
	return func(c *Cache[T]) {
		c.metrics = m
	}
}

// WithTracing creates spans from tp. A nil tp uses the global provider.
func WithTracing[T any](tp trace.TracerProvider) Option[T] {
	return func(c *Cache[T]) {
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithEvents publishes every outcome to p.
func WithEvents[T any](p events.Publisher) Option[T] {
	return func(c *Cache[T]) {
		c.events = p
	}
}

// WithReleaseTimeout bounds lock release and event publishing once the call
// itself is finished. The default is two seconds.
func WithReleaseTimeout[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if d > 0 {
			c.releaseTimeout = d
		}
	}
}
