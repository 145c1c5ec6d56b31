package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack serializes values using vmihailenco/msgpack/v5.
// Use `msgpack:"name"` tags for explicit field names.
type Msgpack[T any] struct{}

func (Msgpack[T]) Encode(v T) ([]byte, error) { return msgpack.Marshal(v) }
func (Msgpack[T]) Decode(b []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
