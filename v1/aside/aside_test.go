package aside

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mirkobrombin/go-aside/v1/lock"
	"github.com/mirkobrombin/go-aside/v1/store"
)

func TestGetOrSetHitSkipsProducerAndLock(t *testing.T) {
	env := newRedisEnv(t, testPolicy)
	if err := env.mr.Set("user:1", `"alice"`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := New[string](env.store, env.coord)
	produce, calls := counter("bob")

	got, err := c.GetOrSet(context.Background(), "user:1", produce, time.Minute)
	if err != nil {
		t.Fatalf("GetOrSet: %v", err)
	}
	if got != "alice" {
		t.Fatalf("expected cached alice, got %q", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("producer ran %d times on a hit", calls.Load())
	}
	if env.locker.tries.Load() != 0 {
		t.Fatal("a hit must not touch the lock service")
	}
}

func TestGetOrSetMissProducesAndStores(t *testing.T) {
	env := newRedisEnv(t, testPolicy)
	c := New[int](env.store, env.coord)
	produce, calls := counter(42)

	got, err := c.GetOrSet(context.Background(), "answer", produce, 2*time.Second)
	if err != nil {
		t.Fatalf("GetOrSet: %v", err)
	}
	if got != 42 || calls.Load() != 1 {
		t.Fatalf("expected 42 from one produce, got %d after %d calls", got, calls.Load())
	}
	raw, err := env.mr.Get("answer")
	if err != nil || raw != "42" {
		t.Fatalf("expected stored 42, got %q err %v", raw, err)
	}
	if ttl := env.mr.TTL("answer"); ttl != 2*time.Second {
		t.Fatalf("expected 2s ttl, got %v", ttl)
	}
	if env.locker.unlocks.Load() != 1 {
		t.Fatalf("expected one release, got %d", env.locker.unlocks.Load())
	}
	if env.mr.Exists("lock:answer") {
		t.Fatal("lock left behind")
	}
}

func TestGetOrSetRereadIsHit(t *testing.T) {
	env := newMemEnv(t, testPolicy)
	c := New[string](env.store, env.coord)
	produce, calls := counter("v")
	ctx := context.Background()

	first, err := c.Fetch(ctx, "k", produce, time.Minute)
	if err != nil || first.Outcome != OutcomeProduced {
		t.Fatalf("first: %+v err %v", first, err)
	}
	second, err := c.Fetch(ctx, "k", produce, time.Minute)
	if err != nil || second.Outcome != OutcomeHit || second.Value != "v" {
		t.Fatalf("second: %+v err %v", second, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one produce, got %d", calls.Load())
	}
}

func TestGetOrSetContendedReturnsZero(t *testing.T) {
	env := newMemEnv(t, testPolicy)
	c := New[string](env.store, env.coord)
	ctx := context.Background()

	held, err := env.coord.Acquire(ctx, "k")
	if err != nil || !held.Acquired {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer held.Release(ctx)

	produce, calls := counter("v")
	start := time.Now()
	got, err := c.GetOrSet(ctx, "k", produce, time.Minute)
	if err != nil {
		t.Fatalf("contention is not an error, got %v", err)
	}
	if got != "" {
		t.Fatalf("expected zero value, got %q", got)
	}
	if calls.Load() != 0 {
		t.Fatal("producer ran without the lock")
	}
	if elapsed := time.Since(start); elapsed < testPolicy.MaxWait() {
		t.Fatalf("gave up after %v, want at least %v", elapsed, testPolicy.MaxWait())
	}
	// one pre-acquire plus every attempt from the call
	if n := env.locker.tries.Load(); n != int32(1+testPolicy.MaxRetries) {
		t.Fatalf("expected %d attempts, got %d", 1+testPolicy.MaxRetries, n)
	}
	if _, ok, _ := env.store.Get(ctx, "k"); ok {
		t.Fatal("nothing should be stored")
	}

	res, err := c.Fetch(ctx, "k", produce, time.Minute)
	if err != nil || res.Outcome != OutcomeUnavailable {
		t.Fatalf("expected unavailable, got %+v err %v", res, err)
	}
}

func TestGetOrSetProducerErrorReleases(t *testing.T) {
	env := newMemEnv(t, testPolicy)
	c := New[string](env.store, env.coord)
	boom := errors.New("upstream down")

	_, err := c.GetOrSet(context.Background(), "k", func(context.Context) (string, error) {
		return "", boom
	}, time.Minute)
	if !errors.Is(err, boom) {
		t.Fatalf("expected producer error unchanged, got %v", err)
	}
	if env.mem.Held("lock:k") {
		t.Fatal("lock not released after producer failure")
	}
	if _, ok, _ := env.store.Get(context.Background(), "k"); ok {
		t.Fatal("failed produce must not be stored")
	}
}

func TestGetOrSetEncodeErrorReleases(t *testing.T) {
	env := newMemEnv(t, testPolicy)
	c := New[string](env.store, env.coord, WithCodec[string](unencodable[string]{}))
	produce, _ := counter("v")

	_, err := c.GetOrSet(context.Background(), "k", produce, time.Minute)
	var ee *EncodeError
	if !errors.As(err, &ee) || ee.Key != "k" || !errors.Is(err, errUnencodable) {
		t.Fatalf("expected EncodeError, got %v", err)
	}
	if env.mem.Held("lock:k") || env.locker.unlocks.Load() != 1 {
		t.Fatal("lock not released after encode failure")
	}
}

func TestGetOrSetStoreSetErrorReleases(t *testing.T) {
	env := newMemEnv(t, testPolicy)
	boom := errors.New("disk full")
	c := New[string](&faultyStore{Store: env.store, setErr: boom}, env.coord)
	produce, _ := counter("v")

	if _, err := c.GetOrSet(context.Background(), "k", produce, time.Minute); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if env.locker.unlocks.Load() != 1 {
		t.Fatalf("expected one release, got %d", env.locker.unlocks.Load())
	}
}

func TestGetOrSetStoreGetErrorIsFatal(t *testing.T) {
	env := newMemEnv(t, testPolicy)
	boom := errors.New("connection refused")
	c := New[string](&faultyStore{Store: env.store, getErr: boom}, env.coord)
	produce, calls := counter("v")

	if _, err := c.GetOrSet(context.Background(), "k", produce, time.Minute); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if calls.Load() != 0 || env.locker.tries.Load() != 0 {
		t.Fatal("store failure must not fall through to the lock")
	}
}

func TestGetOrSetDecodeError(t *testing.T) {
	env := newRedisEnv(t, testPolicy)
	_ = env.mr.Set("k", "not json")
	c := New[int](env.store, env.coord)
	produce, calls := counter(1)

	_, err := c.GetOrSet(context.Background(), "k", produce, time.Minute)
	var de *DecodeError
	if !errors.As(err, &de) || de.Key != "k" {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if calls.Load() != 0 || env.locker.tries.Load() != 0 {
		t.Fatal("decode failure must not produce or lock")
	}
}

func TestGetOrSetLockErrorIsFatal(t *testing.T) {
	env := newRedisEnv(t, testPolicy)
	s := store.NewInMemory(store.WithSweepInterval(0))
	defer s.Close()
	c := New[int](s, env.coord)
	produce, calls := counter(1)
	env.mr.Close()

	if _, err := c.GetOrSet(context.Background(), "k", produce, time.Minute); err == nil {
		t.Fatal("expected transport error")
	}
	if calls.Load() != 0 {
		t.Fatal("producer ran without the lock")
	}
}

func TestGetOrSetValidation(t *testing.T) {
	env := newMemEnv(t, testPolicy)
	c := New[int](env.store, env.coord)
	produce, _ := counter(1)
	ctx := context.Background()

	if _, err := c.GetOrSet(ctx, "", produce, time.Second); !errors.Is(err, lock.ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if _, err := c.GetOrSet(ctx, "k", nil, time.Second); !errors.Is(err, ErrNilProducer) {
		t.Fatalf("expected ErrNilProducer, got %v", err)
	}
	if _, err := c.GetOrSet(ctx, "k", produce, 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}

func TestGetOrSetCancelledHolderStillReleases(t *testing.T) {
	env := newRedisEnv(t, testPolicy)
	c := New[string](env.store, env.coord)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := c.GetOrSet(ctx, "k", func(context.Context) (string, error) {
		cancel()
		return "v", nil
	}, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to surface from the store write, got %v", err)
	}
	if env.mr.Exists("lock:k") {
		t.Fatal("cancelled caller leaked the lock")
	}
}

func TestGetOrSetTimestampExpiry(t *testing.T) {
	env := newRedisEnv(t, testPolicy)
	c := New[time.Time](env.store, env.coord)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var produced int
	produce := func(context.Context) (time.Time, error) {
		produced++
		return base.Add(time.Duration(produced) * time.Minute), nil
	}

	first, err := c.GetOrSet(ctx, "ts", produce, 2*time.Second)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := c.GetOrSet(ctx, "ts", produce, 2*time.Second)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Equal(first) || produced != 1 {
		t.Fatalf("expected cached %v, got %v after %d produces", first, second, produced)
	}
	raw, _ := env.mr.Get("ts")
	var decoded time.Time
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil || !decoded.Equal(first) {
		t.Fatalf("stored payload %q does not decode to %v", raw, first)
	}

	env.mr.FastForward(3 * time.Second)
	third, err := c.GetOrSet(ctx, "ts", produce, 2*time.Second)
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if !third.After(first) || produced != 2 {
		t.Fatalf("expected a fresh value after expiry, got %v (first %v)", third, first)
	}
}

func TestAsyncMatchesBlocking(t *testing.T) {
	type run func(c *Cache[string], ctx context.Context, key string, p Producer[string]) (Result[string], error)
	modes := map[string]run{
		"blocking": func(c *Cache[string], ctx context.Context, key string, p Producer[string]) (Result[string], error) {
			return c.Fetch(ctx, key, p, time.Minute)
		},
		"suspending": func(c *Cache[string], ctx context.Context, key string, p Producer[string]) (Result[string], error) {
			return c.FetchAsync(ctx, key, p, time.Minute).Await(ctx)
		},
	}
	for name, fetch := range modes {
		t.Run(name, func(t *testing.T) {
			env := newMemEnv(t, testPolicy)
			c := New[string](env.store, env.coord)
			ctx := context.Background()
			produce, calls := counter("v")

			if res, err := fetch(c, ctx, "miss", produce); err != nil || res.Outcome != OutcomeProduced || res.Value != "v" {
				t.Fatalf("miss: %+v err %v", res, err)
			}
			if res, err := fetch(c, ctx, "miss", produce); err != nil || res.Outcome != OutcomeHit || res.Value != "v" {
				t.Fatalf("hit: %+v err %v", res, err)
			}

			held, _ := env.coord.Acquire(ctx, "busy")
			start := time.Now()
			res, err := fetch(c, ctx, "busy", produce)
			if err != nil || res.Outcome != OutcomeUnavailable || res.Value != "" {
				t.Fatalf("contended: %+v err %v", res, err)
			}
			if time.Since(start) < testPolicy.MaxWait() {
				t.Fatal("contended call returned before exhausting its retries")
			}
			_ = held.Release(ctx)

			if calls.Load() != 1 {
				t.Fatalf("expected one produce, got %d", calls.Load())
			}
		})
	}
}

func TestGetOrSetAsync(t *testing.T) {
	env := newMemEnv(t, testPolicy)
	c := New[int](env.store, env.coord)
	produce, _ := counter(7)

	f := c.GetOrSetAsync(context.Background(), "k", produce, time.Minute)
	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
	v, err := f.Await(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("expected 7, got %d err %v", v, err)
	}
}

func TestFutureAwaitHonoursContext(t *testing.T) {
	env := newMemEnv(t, testPolicy)
	c := New[int](env.store, env.coord)
	release := make(chan struct{})
	f := c.GetOrSetAsync(context.Background(), "k", func(context.Context) (int, error) {
		<-release
		return 1, nil
	}, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)
	if v, err := f.Await(context.Background()); err != nil || v != 1 {
		t.Fatalf("expected 1 once released, got %d err %v", v, err)
	}
	if env.mem.Held("lock:k") {
		t.Fatal("abandoned future leaked its lock")
	}
}
