package lock

import (
	"context"
	"sync"
)

// Handle is the result of one acquisition. It is owned by the caller that
// requested it and must be released when the critical section ends, whether
// or not the lock was acquired.
type Handle struct {
	// Key is the caller key the lock was requested for.
	Key string
	// Acquired reports whether one of the attempts succeeded.
	Acquired bool

	name   string
	token  string
	locker Locker

	once sync.Once
	err  error
}

// Release frees the lock. Only the first call reaches the lock service; a
// handle that was never acquired releases nothing.
func (h *Handle) Release(ctx context.Context) error {
	if h == nil || !h.Acquired {
		return nil
	}
	h.once.Do(func() {
		h.err = h.locker.Unlock(ctx, h.name, h.token)
	})
	return h.err
}
