// Package metrics exposes the Prometheus collectors recorded by the lock
// coordinator and the cache-aside orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Lock attempt results.
const (
	LockAcquired  = "acquired"
	LockContended = "contended"
	LockError     = "error"
)

// Latency operation labels.
const (
	OpGetOrSet = "get_or_set"
	OpAcquire  = "acquire"
)

// Collectors groups every metric emitted by go-aside. A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	// Outcomes counts terminal get-or-set outcomes by "outcome".
	Outcomes *prometheus.CounterVec
	// LockAttempts counts single lock attempts by "result".
	LockAttempts *prometheus.CounterVec
	// Latency observes operation duration by "op".
	Latency *prometheus.HistogramVec
	// ProducerErrors counts failed value producers.
	ProducerErrors prometheus.Counter
}

// NewCollectors returns unregistered collectors.
func NewCollectors() *Collectors {
	return &Collectors{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aside_outcomes_total",
			Help: "Total number of get-or-set calls by outcome",
		}, []string{"outcome"}),
		LockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aside_lock_attempts_total",
			Help: "Total number of lock acquisition attempts by result",
		}, []string{"result"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aside_operation_seconds",
			Help:    "Latency of get-or-set and lock acquisition",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		ProducerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aside_producer_errors_total",
			Help: "Total number of failed value producers",
		}),
	}
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// MustRegister registers every collector on reg. It panics on duplicate
// registration.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.Outcomes, c.LockAttempts, c.Latency, c.ProducerErrors)
}

// Outcome increments the counter for outcome.
func (c *Collectors) Outcome(outcome string) {
	if c == nil {
		return
	}
	c.Outcomes.WithLabelValues(outcome).Inc()
}

// LockAttempt increments the counter for a single lock attempt.
func (c *Collectors) LockAttempt(result string) {
	if c == nil {
		return
	}
	c.LockAttempts.WithLabelValues(result).Inc()
}

// Observe records the duration of op.
func (c *Collectors) Observe(op string, d time.Duration) {
	if c == nil {
		return
	}
	c.Latency.WithLabelValues(op).Observe(d.Seconds())
}

// ProducerFailed increments the producer error counter.
func (c *Collectors) ProducerFailed() {
	if c == nil {
		return
	}
	c.ProducerErrors.Inc()
}
