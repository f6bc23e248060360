// Package codec converts page items to and from bytes for the spill tier.
// Only successful pages that fall out of the in-memory LRU are ever encoded;
// the hot path works on decoded items.
package codec

// Codec encodes/decodes a single item T.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}
