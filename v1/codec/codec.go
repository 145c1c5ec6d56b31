// Package codec turns cached values into payload bytes and back.
package codec

import "fmt"

// Codec encodes and decodes values of type T for storage.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// ByName returns the codec registered under name: "json" (also the empty
// name), "gob", "msgpack" or "cbor". Protobuf needs a message constructor
// and is built with NewProtobuf instead.
func ByName[T any](name string) (Codec[T], error) {
	switch name {
	case "", "json":
		return JSON[T]{}, nil
	case "gob":
		return Gob[T]{}, nil
	case "msgpack":
		return Msgpack[T]{}, nil
	case "cbor":
		c, err := NewCBOR[T](false)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
