package log

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the encoded message.
const (
	offsetField protowire.Number = 1
	valueField  protowire.Number = 2
)

// Message is a single record of a topic: the offset the topic assigned to it
// and an opaque payload.
type Message struct {
	Offset uint64
	Value  []byte
}

// NewMessage copies value so later mutation by the caller cannot change the
// stored record.
func NewMessage(offset uint64, value []byte) Message {
	v := make([]byte, len(value))
	copy(v, value)
	return Message{Offset: offset, Value: v}
}

// MarshalBinary encodes the offset as a fixed 8-byte field followed by the
// length-delimited payload.
func (m Message) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 1+8+1+protowire.SizeBytes(len(m.Value)))
	b = protowire.AppendTag(b, offsetField, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, m.Offset)
	b = protowire.AppendTag(b, valueField, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Value)
	return b, nil
}

// UnmarshalBinary decodes p into m. Unknown fields are skipped; a message
// without an offset field is rejected.
func (m *Message) UnmarshalBinary(p []byte) error {
	msg := Message{Value: []byte{}}
	seenOff := false
	for len(p) > 0 {
		num, typ, n := protowire.ConsumeTag(p)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "decode tag")
		}
		p = p[n:]
		switch {
		case num == offsetField && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(p)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "decode offset")
			}
			msg.Offset = v
			seenOff = true
			p = p[n:]
		case num == valueField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(p)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "decode value")
			}
			msg.Value = make([]byte, len(v))
			copy(msg.Value, v)
			p = p[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, p)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "skip field %d", num)
			}
			p = p[n:]
		}
	}
	if !seenOff {
		return errors.New("decode: missing offset field")
	}
	*m = msg
	return nil
}
