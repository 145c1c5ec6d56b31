// Package errors holds the failure values shared by the store and lock
// backends.
package errors

import "errors"

var (
	// ErrTimeout is returned when a backend call exceeds its deadline.
	ErrTimeout = errors.New("aside: timeout")
	// ErrClosed is returned by backends used after Close.
	ErrClosed = errors.New("aside: backend closed")
)
