package aside

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-aside/v1/lock"
)

func TestProducersNeverOverlap(t *testing.T) {
	for name, async := range map[string]bool{"blocking": false, "suspending": true} {
		t.Run(name, func(t *testing.T) {
			policy := lock.RetryPolicy{Expiry: 5 * time.Second, MaxRetries: 2000, RetryDelay: time.Millisecond}
			env := newRedisEnv(t, policy)
			c := New[int64](env.store, env.coord)

			var (
				mu       sync.Mutex
				inside   int
				maxSeen  int
				produced atomic.Int64
			)
			produce := func(context.Context) (int64, error) {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return produced.Add(1), nil
			}

			g, ctx := errgroup.WithContext(context.Background())
			results := make([]int64, 16)
			for i := range results {
				g.Go(func() error {
					var (
						v   int64
						err error
					)
					if async {
						v, err = c.GetOrSetAsync(ctx, "hot", produce, time.Minute).Await(ctx)
					} else {
						v, err = c.GetOrSet(ctx, "hot", produce, time.Minute)
					}
					results[i] = v
					return err
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("GetOrSet: %v", err)
			}
			if maxSeen != 1 {
				t.Fatalf("producers overlapped: %d at once", maxSeen)
			}
			n := produced.Load()
			if n < 1 {
				t.Fatal("nobody produced")
			}
			for i, v := range results {
				if v < 1 || v > n {
					t.Fatalf("caller %d got %d, outside produced range 1..%d", i, v, n)
				}
			}
		})
	}
}

func TestKeysAreIndependent(t *testing.T) {
	env := newMemEnv(t, lock.RetryPolicy{Expiry: time.Second, MaxRetries: 1})
	c := New[string](env.store, env.coord)
	ctx := context.Background()

	held, _ := env.coord.Acquire(ctx, "a")
	defer held.Release(ctx)
	produce, calls := counter("b")
	res, err := c.Fetch(ctx, "b", produce, time.Minute)
	if err != nil || res.Outcome != OutcomeProduced {
		t.Fatalf("lock on a blocked b: %+v err %v", res, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one produce, got %d", calls.Load())
	}
}
