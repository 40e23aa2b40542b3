package protocol

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations for every declared type/operation pair.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		d    *Datagram
	}{
		{"SYN", Control(OpSyn, 0, "alice")},
		{"ACK", Control(OpAck, 1, "bob")},
		{"SYN_ACK", Control(OpSynAck, 0, "bob")},
		{"FIN", Control(OpFin, 255, "alice")},
		{"CHAT small payload", Chat(1, "alice", "hello world")},
		{"CHAT empty payload", Chat(2, "alice", "")},
		{"CHAT empty username", Chat(3, "", "anonymous")},
		{"CHAT 32-byte username", Chat(4, strings.Repeat("u", MaxUsernameLen), "x")},
		{"CHAT large payload", Chat(5, "carol", strings.Repeat("abc", 10000))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.d)
			require.NoError(t, err)
			require.Len(t, encoded, HeaderSize+len(tc.d.Payload))
			require.Equal(t, uint32(len(tc.d.Payload)), binary.BigEndian.Uint32(encoded[35:39]))

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, tc.d, decoded)
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	encoded, err := Encode(Chat(7, "al", "hi"))
	require.NoError(t, err)

	want := []byte{0x02, 0x01, 0x07, 'a', 'l'}
	want = append(want, make([]byte, MaxUsernameLen-2)...)
	want = append(want, 0, 0, 0, 2, 'h', 'i')
	require.Equal(t, want, encoded)
}

func TestEncodeTruncatesUsername(t *testing.T) {
	long := strings.Repeat("abcdefgh", 5) // 40 bytes
	encoded, err := Encode(Control(OpSyn, 0, long))
	require.NoError(t, err)
	require.Len(t, encoded, HeaderSize)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, long[:MaxUsernameLen], decoded.Username)
}

func TestEncodeRejectsNonASCII(t *testing.T) {
	_, err := Encode(Chat(1, "zoë", "hi"))
	require.ErrorIs(t, err, ErrEncoding)

	_, err = Encode(Chat(1, "zoe", "héllo"))
	require.ErrorIs(t, err, ErrEncoding)
}

func TestEncodeRejectsNulInUsername(t *testing.T) {
	_, err := Encode(Control(OpSyn, 0, "al\x00ice"))
	require.ErrorIs(t, err, ErrEncoding)

	// NUL is an ordinary ASCII byte inside a length-prefixed payload.
	encoded, err := Encode(Chat(1, "alice", "a\x00b"))
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, "a\x00b", decoded.Payload)
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(Chat(1, "alice", "hello"))
	require.NoError(t, err)

	badType := append([]byte(nil), valid...)
	badType[0] = 0x03

	badControlOp := append([]byte(nil), valid...)
	badControlOp[0] = byte(TypeControl)
	badControlOp[1] = 0x05

	badChatOp := append([]byte(nil), valid...)
	badChatOp[1] = byte(OpAck)

	nonASCIIPayload := append([]byte(nil), valid...)
	nonASCIIPayload[HeaderSize] = 0xff

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"one byte", []byte{0x01}},
		{"one less than header", make([]byte, HeaderSize-1)},
		{"truncated payload", valid[:len(valid)-1]},
		{"unknown msg type", badType},
		{"unknown control operation", badControlOp},
		{"chat with control operation", badChatOp},
		{"non-ASCII payload", nonASCIIPayload},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			require.ErrorIs(t, err, ErrMalformedDatagram)
		})
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	encoded, err := Encode(Chat(9, "bob", "hey"))
	require.NoError(t, err)

	decoded, err := Decode(append(encoded, 'x', 'y'))
	require.NoError(t, err)
	require.Equal(t, "hey", decoded.Payload)
}

// TestDecodeStopsAtFirstZero checks that bytes after the first NUL in the
// username field are not part of the name.
func TestDecodeStopsAtFirstZero(t *testing.T) {
	encoded, err := Encode(Control(OpAck, 0, "bob"))
	require.NoError(t, err)
	encoded[usernameOffset+5] = 'z'

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, "bob", decoded.Username)
}

// TestDecodeUnexpectedOperationForState ensures a well-formed datagram is
// decoded regardless of whether its operation makes sense to the receiver.
func TestDecodeUnexpectedOperationForState(t *testing.T) {
	for _, op := range []Operation{OpSyn, OpAck, OpSynAck, OpFin} {
		encoded, err := Encode(Control(op, 42, "eve"))
		require.NoError(t, err)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.True(t, decoded.Is(op), "operation %s", op)
	}
}
