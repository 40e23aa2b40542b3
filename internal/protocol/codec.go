package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedDatagram is returned by Decode for truncated or invalid buffers.
	ErrMalformedDatagram = errors.New("malformed datagram")
	// ErrEncoding is returned by Encode when a text field is not ASCII or a
	// username contains a NUL byte.
	ErrEncoding = errors.New("encoding error")
)

// Encode serializes a Datagram for UDP transmission. Usernames longer than
// MaxUsernameLen bytes are truncated and the remainder of the field is
// zero-padded, so a username may not contain NUL.
func Encode(d *Datagram) ([]byte, error) {
	if i := nonASCII(d.Username); i >= 0 {
		return nil, fmt.Errorf("%w: username has non-ASCII byte at %d", ErrEncoding, i)
	}
	if i := strings.IndexByte(d.Username, 0); i >= 0 {
		return nil, fmt.Errorf("%w: username has NUL byte at %d", ErrEncoding, i)
	}
	if i := nonASCII(d.Payload); i >= 0 {
		return nil, fmt.Errorf("%w: payload has non-ASCII byte at %d", ErrEncoding, i)
	}

	username := d.Username
	if len(username) > MaxUsernameLen {
		username = username[:MaxUsernameLen]
	}

	buf := make([]byte, HeaderSize+len(d.Payload))
	buf[0] = byte(d.Type)
	buf[1] = byte(d.Operation)
	buf[2] = d.Seq
	copy(buf[usernameOffset:payloadLenOffset], username)
	binary.BigEndian.PutUint32(buf[payloadLenOffset:HeaderSize], uint32(len(d.Payload)))
	copy(buf[HeaderSize:], d.Payload)
	return buf, nil
}

// Decode deserializes a byte slice into a Datagram. Bytes after the declared
// payload are ignored.
func Decode(data []byte) (*Datagram, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrMalformedDatagram, len(data), HeaderSize)
	}

	d := &Datagram{
		Type:      MsgType(data[0]),
		Operation: Operation(data[1]),
		Seq:       data[2],
	}
	if !validOperation(d.Type, d.Operation) {
		return nil, fmt.Errorf("%w: invalid type/operation 0x%02x/0x%02x", ErrMalformedDatagram, data[0], data[1])
	}

	name := data[usernameOffset:payloadLenOffset]
	for i, b := range name {
		if b == 0 {
			name = name[:i]
			break
		}
	}
	if i := nonASCII(string(name)); i >= 0 {
		return nil, fmt.Errorf("%w: username has non-ASCII byte at %d", ErrMalformedDatagram, i)
	}
	d.Username = string(name)

	payloadLen := binary.BigEndian.Uint32(data[payloadLenOffset:HeaderSize])
	if uint64(len(data)-HeaderSize) < uint64(payloadLen) {
		return nil, fmt.Errorf("%w: payload length %d exceeds %d available bytes",
			ErrMalformedDatagram, payloadLen, len(data)-HeaderSize)
	}
	payload := data[HeaderSize : HeaderSize+int(payloadLen)]
	if i := nonASCII(string(payload)); i >= 0 {
		return nil, fmt.Errorf("%w: payload has non-ASCII byte at %d", ErrMalformedDatagram, i)
	}
	d.Payload = string(payload)

	return d, nil
}

// nonASCII returns the index of the first byte above 0x7f, or -1.
func nonASCII(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return i
		}
	}
	return -1
}
