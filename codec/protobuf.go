package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Protobuf encodes items that are protobuf messages. ctor returns a new
// empty message to decode into, e.g. func() *pb.User { return &pb.User{} }.
type Protobuf[M proto.Message] struct {
	new func() M
}

func NewProtobuf[M proto.Message](ctor func() M) Protobuf[M] {
	return Protobuf[M]{new: ctor}
}

func (c Protobuf[M]) Encode(v M) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[M]) Decode(b []byte) (M, error) {
	var zero M
	if c.new == nil {
		return zero, errors.New("codec: protobuf constructor is nil")
	}
	m := c.new()
	if err := proto.Unmarshal(b, m); err != nil {
		return zero, err
	}
	return m, nil
}

// ProtoMapped stores plain items through a protobuf message: To builds the
// message for an item, From recovers the item.
type ProtoMapped[T any, M proto.Message] struct {
	Proto Protobuf[M]
	To    func(T) (M, error)
	From  func(M) (T, error)
}

func (c ProtoMapped[T, M]) Encode(v T) ([]byte, error) {
	m, err := c.To(v)
	if err != nil {
		return nil, err
	}
	return c.Proto.Encode(m)
}

func (c ProtoMapped[T, M]) Decode(b []byte) (T, error) {
	m, err := c.Proto.Decode(b)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.From(m)
}
