package log

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMessageRoundTrip(t *testing.T) {
	for _, want := range []Message{
		NewMessage(0, []byte("hello")),
		NewMessage(1<<63+7, []byte{0x00, 0xff, 0x10, 0x00}),
		NewMessage(42, nil),
		NewMessage(9, make([]byte, 70000)),
	} {
		p, err := want.MarshalBinary()
		require.NoError(t, err)

		var got Message
		require.NoError(t, got.UnmarshalBinary(p))
		require.Equal(t, want.Offset, got.Offset)
		require.Equal(t, len(want.Value), len(got.Value))
		require.Equal(t, want.Value, got.Value)
	}
}

func TestNewMessageCopiesValue(t *testing.T) {
	value := []byte("original")
	m := NewMessage(1, value)
	value[0] = 'X'
	require.Equal(t, []byte("original"), m.Value)
}

func TestMessageUnmarshalSkipsUnknownFields(t *testing.T) {
	p, err := NewMessage(5, []byte("v")).MarshalBinary()
	require.NoError(t, err)
	p = protowire.AppendTag(p, 9, protowire.VarintType)
	p = protowire.AppendVarint(p, 300)

	var got Message
	require.NoError(t, got.UnmarshalBinary(p))
	require.Equal(t, uint64(5), got.Offset)
	require.Equal(t, []byte("v"), got.Value)
}

func TestMessageUnmarshalErrors(t *testing.T) {
	p, err := NewMessage(5, []byte("value")).MarshalBinary()
	require.NoError(t, err)

	var m Message
	// truncated payload
	require.Error(t, m.UnmarshalBinary(p[:len(p)-2]))
	// truncated offset
	require.Error(t, m.UnmarshalBinary(p[:4]))

	// value without offset
	noOffset := protowire.AppendTag(nil, valueField, protowire.BytesType)
	noOffset = protowire.AppendBytes(noOffset, []byte("v"))
	require.Error(t, m.UnmarshalBinary(noOffset))
}
