package store

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Ristretto implements Store using dgraph-io/ristretto. Admission is
// probabilistic, so a Set may be dropped under memory pressure and read back
// as a miss.
type Ristretto struct {
	c *ristretto.Cache
}

// RistrettoOption configures the underlying ristretto cache.
type RistrettoOption func(*ristretto.Config)

// WithRistretto applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistretto(cfg *ristretto.Config) RistrettoOption {
	return func(c *ristretto.Config) {
		if cfg == nil {
			return
		}
		*c = *cfg
	}
}

// WithMaxCost bounds the total payload bytes held.
func WithMaxCost(n int64) RistrettoOption {
	return func(c *ristretto.Config) {
		if n > 0 {
			c.MaxCost = n
		}
	}
}

// NewRistretto returns a Store backed by ristretto.
func NewRistretto(opts ...RistrettoOption) (*Ristretto, error) {
	cfg := &ristretto.Config{
		NumCounters: 1e4,     // keys tracked for admission (10k).
		MaxCost:     1 << 20, // payload bytes (1MB).
		BufferItems: 64,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: rc}, nil
}

// Get implements Store.Get.
func (r *Ristretto) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, _ := v.([]byte)
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// Set implements Store.Set. The write is visible to Get once Set returns.
func (r *Ristretto) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	cost := int64(len(buf))
	if cost == 0 {
		cost = 1
	}
	r.c.SetWithTTL(key, buf, cost, ttl)
	r.c.Wait()
	return nil
}

// Close implements Store.Close.
func (r *Ristretto) Close() error {
	r.c.Close()
	return nil
}
