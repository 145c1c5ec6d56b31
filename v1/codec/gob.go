package codec

import (
	"bytes"
	"encoding/gob"
)

// Gob encodes values with encoding/gob. Only exported fields survive.
type Gob[T any] struct{}

func (Gob[T]) Encode(v T) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (Gob[T]) Decode(data []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}
