package aside

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-aside/v1/lock"
	"github.com/mirkobrombin/go-aside/v1/store"
)

var testPolicy = lock.RetryPolicy{Expiry: time.Second, MaxRetries: 3, RetryDelay: 10 * time.Millisecond}

// countingLocker records traffic to the wrapped lock service.
type countingLocker struct {
	lock.Locker
	tries   atomic.Int32
	unlocks atomic.Int32
}

func (c *countingLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	c.tries.Add(1)
	return c.Locker.TryLock(ctx, key, ttl)
}

func (c *countingLocker) Unlock(ctx context.Context, key, token string) error {
	c.unlocks.Add(1)
	return c.Locker.Unlock(ctx, key, token)
}

type redisEnv struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *store.Redis
	locker *countingLocker
	coord  *lock.Coordinator
}

func newRedisEnv(t *testing.T, policy lock.RetryPolicy) *redisEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	l := &countingLocker{Locker: lock.NewRedis(client)}
	return &redisEnv{
		mr:     mr,
		client: client,
		store:  store.NewRedis(client),
		locker: l,
		coord:  lock.NewCoordinator(l, policy),
	}
}

type memEnv struct {
	store  *store.InMemory
	mem    *lock.InMemory
	locker *countingLocker
	coord  *lock.Coordinator
}

func newMemEnv(t *testing.T, policy lock.RetryPolicy) *memEnv {
	t.Helper()
	s := store.NewInMemory(store.WithSweepInterval(0))
	t.Cleanup(func() { _ = s.Close() })
	mem := lock.NewInMemory()
	l := &countingLocker{Locker: mem}
	return &memEnv{store: s, mem: mem, locker: l, coord: lock.NewCoordinator(l, policy)}
}

// counter returns a producer yielding v and the number of calls made.
func counter[T any](v T) (Producer[T], *atomic.Int32) {
	var n atomic.Int32
	return func(context.Context) (T, error) {
		n.Add(1)
		return v, nil
	}, &n
}

// faultyStore fails the operations it is told to.
type faultyStore struct {
	store.Store
	getErr error
	setErr error
}

func (f *faultyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Store.Set(ctx, key, value, ttl)
}

// unencodable fails every Encode.
type unencodable[T any] struct{}

var errUnencodable = errors.New("cannot encode")

func (unencodable[T]) Encode(T) ([]byte, error) { return nil, errUnencodable }
func (unencodable[T]) Decode([]byte) (T, error) {
	var zero T
	return zero, nil
}
