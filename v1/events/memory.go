package events

import (
	"context"
	"sync"
)

const watchBuffer = 16

// InMemory delivers events between goroutines of one process. Slow watchers
// drop events instead of blocking publishers.
type InMemory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewInMemory returns an empty in-process bus.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[string]map[chan Event]struct{})}
}

// Publish implements Publisher.
func (b *InMemory) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range []string{ev.Key, AllKeys} {
		for ch := range b.subs[key] {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// Watch implements Watcher.
func (b *InMemory) Watch(ctx context.Context, key string) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan Event, watchBuffer)
	b.mu.Lock()
	set := b.subs[key]
	if set == nil {
		set = make(map[chan Event]struct{})
		b.subs[key] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[key], ch)
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *InMemory) watchers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}
