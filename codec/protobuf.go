package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Protobuf serializes proto messages. ctor must return a fresh, non-nil
// message, e.g. func() *pb.User { return new(pb.User) }.
type Protobuf[T proto.Message] struct {
	ctor func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	b, err := proto.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec/protobuf: %w", err)
	}
	return b, nil
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.ctor == nil {
		var zero T
		return zero, errors.New("codec/protobuf: no message constructor")
	}
	m := c.ctor()
	if err := proto.Unmarshal(b, m); err != nil {
		return m, fmt.Errorf("codec/protobuf: %w", err)
	}
	return m, nil
}
