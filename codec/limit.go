package codec

import "fmt"

// Limit wraps another codec and refuses to decode payloads above MaxDecode bytes.
// Encode is forwarded unchanged. MaxDecode <= 0 disables the check.
//
// A spilled page that decodes with an error is dropped from the spill tier and
// refetched, so an oversized item simply costs one extra fetch.
type Limit[T any] struct {
	Inner     Codec[T]
	MaxDecode int
}

func (c Limit[T]) Encode(v T) ([]byte, error) { return c.Inner.Encode(v) }
func (c Limit[T]) Decode(b []byte) (T, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero T
		return zero, fmt.Errorf("codec: item too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
