package codec

import "encoding/json"

// JSON encodes items with encoding/json. The zero value is ready to use.
type JSON[T any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }
func (JSON[T]) Decode(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}
