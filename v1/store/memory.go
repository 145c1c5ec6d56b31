package store

import (
	"context"
	"sync"
	"time"

	asideerrors "github.com/mirkobrombin/go-aside/v1/errors"
)

// defaultSweepInterval is the default period for removing expired entries.
const defaultSweepInterval = time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// InMemory is a process-local Store with absolute TTL expiry.
type InMemory struct {
	mu            sync.RWMutex
	items         map[string]entry
	sweepInterval time.Duration
	closed        bool
	now           func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// InMemoryOption configures an InMemory store.
type InMemoryOption func(*InMemory)

// WithSweepInterval sets the interval at which expired entries are removed.
// A zero or negative duration disables the background sweeper; expired
// entries are still never returned.
func WithSweepInterval(d time.Duration) InMemoryOption {
	return func(m *InMemory) {
		m.sweepInterval = d
	}
}

// NewInMemory returns an empty in-memory store.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	m := &InMemory{
		items:         make(map[string]entry),
		sweepInterval: defaultSweepInterval,
		stop:          make(chan struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepInterval > 0 {
		m.wg.Add(1)
		go m.sweeper()
	}
	return m
}

// Get implements Store.Get.
func (m *InMemory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, asideerrors.ErrClosed
	}
	e, ok := m.items[key]
	if !ok || e.expired(m.now()) || len(e.value) == 0 {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set implements Store.Set. A non-positive ttl stores the entry without
// expiry.
func (m *InMemory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return asideerrors.ErrClosed
	}
	m.items[key] = entry{value: buf, expiresAt: exp}
	return nil
}

// Len returns the number of entries held, expired ones included until the
// sweeper drops them.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Close stops the sweeper and makes further calls fail with ErrClosed.
func (m *InMemory) Close() error {
	m.once.Do(func() {
		close(m.stop)
		m.wg.Wait()
		m.mu.Lock()
		m.closed = true
		m.items = nil
		m.mu.Unlock()
	})
	return nil
}

func (m *InMemory) sweeper() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(m.now())
		case <-m.stop:
			return
		}
	}
}

func (m *InMemory) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.items {
		if e.expired(now) {
			delete(m.items, k)
		}
	}
}
