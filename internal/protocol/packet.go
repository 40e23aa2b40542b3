// Package protocol defines the SIMP datagram format exchanged between daemons.
package protocol

import "fmt"

// MsgType is the first header byte.
type MsgType uint8

const (
	TypeControl MsgType = 0x01 // handshake / teardown / acknowledgement
	TypeChat    MsgType = 0x02 // chat payload
)

func (t MsgType) String() string {
	switch t {
	case TypeControl:
		return "CONTROL"
	case TypeChat:
		return "CHAT"
	}
	return fmt.Sprintf("MsgType(0x%02x)", uint8(t))
}

// Operation is the second header byte. Its meaning depends on the MsgType.
type Operation uint8

const (
	OpChat   Operation = 0x01 // fixed code carried by every CHAT datagram
	OpSyn    Operation = 0x02
	OpAck    Operation = 0x04
	OpSynAck Operation = 0x06 // SYN | ACK
	OpFin    Operation = 0x08
)

func (o Operation) String() string {
	switch o {
	case OpChat:
		return "CHAT"
	case OpSyn:
		return "SYN"
	case OpAck:
		return "ACK"
	case OpSynAck:
		return "SYN_ACK"
	case OpFin:
		return "FIN"
	}
	return fmt.Sprintf("Operation(0x%02x)", uint8(o))
}

// Header layout: Type(1) + Operation(1) + Seq(1) + Username(32) + PayloadLen(4).
const (
	MaxUsernameLen = 32
	HeaderSize     = 3 + MaxUsernameLen + 4

	usernameOffset   = 3
	payloadLenOffset = usernameOffset + MaxUsernameLen
)

// Datagram is one SIMP packet.
type Datagram struct {
	Type      MsgType
	Operation Operation
	Seq       uint8  // wraps modulo 256
	Username  string // at most MaxUsernameLen ASCII bytes on the wire
	Payload   string // ASCII, only used by CHAT datagrams
}

// Control builds a CONTROL datagram without payload.
func Control(op Operation, seq uint8, username string) *Datagram {
	return &Datagram{Type: TypeControl, Operation: op, Seq: seq, Username: username}
}

// Chat builds a CHAT datagram carrying message.
func Chat(seq uint8, username, message string) *Datagram {
	return &Datagram{Type: TypeChat, Operation: OpChat, Seq: seq, Username: username, Payload: message}
}

// Is reports whether d is a CONTROL datagram with operation op.
func (d *Datagram) Is(op Operation) bool {
	return d.Type == TypeControl && d.Operation == op
}

func (d *Datagram) String() string {
	if d.Type == TypeChat {
		return fmt.Sprintf("CHAT seq=%d from=%q len=%d", d.Seq, d.Username, len(d.Payload))
	}
	return fmt.Sprintf("%s seq=%d from=%q", d.Operation, d.Seq, d.Username)
}

// validOperation reports whether op is declared for the given message type.
func validOperation(t MsgType, op Operation) bool {
	switch t {
	case TypeControl:
		return op == OpSyn || op == OpAck || op == OpSynAck || op == OpFin
	case TypeChat:
		return op == OpChat
	}
	return false
}
