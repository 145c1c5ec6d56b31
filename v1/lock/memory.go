package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type heldLock struct {
	token string
	timer *time.Timer
}

// InMemory implements Locker inside a single process. It is meant for tests
// and single-node deployments.
type InMemory struct {
	mu    sync.Mutex
	locks map[string]*heldLock
}

// NewInMemory returns an empty in-memory locker.
func NewInMemory() *InMemory {
	return &InMemory{locks: make(map[string]*heldLock)}
}

// TryLock implements Locker. A non-positive ttl never expires.
func (l *InMemory) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	held := &heldLock{token: token}
	if ttl > 0 {
		held.timer = time.AfterFunc(ttl, func() { l.drop(key, token) })
	}
	l.locks[key] = held
	return token, true, nil
}

// Unlock implements Locker.
func (l *InMemory) Unlock(_ context.Context, key, token string) error {
	l.drop(key, token)
	return nil
}

// Held reports whether key is currently locked.
func (l *InMemory) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locks[key]
	return ok
}

func (l *InMemory) drop(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.locks[key]
	if !ok || held.token != token {
		return
	}
	if held.timer != nil {
		held.timer.Stop()
	}
	delete(l.locks, key)
}
