package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack encodes items using vmihailenco/msgpack/v5.
// The zero value is ready to use. Use `msgpack:"name"` tags to control field names.
type Msgpack[T any] struct{}

var _ Codec[struct{}] = Msgpack[struct{}]{}

func (Msgpack[T]) Encode(v T) ([]byte, error) {
	return msgpack.Marshal(v)
}
func (Msgpack[T]) Decode(b []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
