package aside

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTTL is returned for a non-positive entry TTL.
	ErrInvalidTTL = errors.New("aside: ttl must be positive")
	// ErrNilProducer is returned when no producer is given.
	ErrNilProducer = errors.New("aside: nil producer")
)

// DecodeError reports a stored payload that could not be decoded. It means
// the entry does not match the cached type and is never retried.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("aside: decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a produced value that could not be encoded. Nothing
// was written to the store.
type EncodeError struct {
	Key string
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("aside: encode %q: %v", e.Key, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
