package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by Limit when a payload exceeds its bound.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit wraps another codec and refuses to decode payloads longer than Max
// bytes. A non-positive Max disables the check.
type Limit[T any] struct {
	Inner Codec[T]
	Max   int
}

func (c Limit[T]) Encode(v T) ([]byte, error) { return c.Inner.Encode(v) }
func (c Limit[T]) Decode(b []byte) (T, error) {
	if c.Max > 0 && len(b) > c.Max {
		var zero T
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.Max)
	}
	return c.Inner.Decode(b)
}
