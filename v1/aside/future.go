package aside

import "context"

// Future holds the result of an asynchronous call.
type Future[V any] struct {
	done chan struct{}
	val  V
	err  error
}

func newFuture[V any]() *Future[V] {
	return &Future[V]{done: make(chan struct{})}
}

func (f *Future[V]) resolve(v V, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[V]) Done() <-chan struct{} { return f.done }

// Await waits for the result or for ctx. Giving up on ctx does not stop the
// call, which still releases its lock when it finishes.
func (f *Future[V]) Await(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
