package events

import (
	"context"
	"errors"
)

// Fanout publishes every event to each of its publishers.
type Fanout []Publisher

// Publish implements Publisher. Every publisher is tried; the failures are
// joined.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
