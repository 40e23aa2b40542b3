// Package session holds the per-daemon chat session: the handshake/teardown
// state machine, sequence numbers, and the turn that decides which daemon may
// send the next chat message.
//
// A Session performs no I/O. Each operation returns the Actions the caller
// must carry out (transmit a datagram, notify the local client, settle the
// in-flight reliable send), which keeps every transition testable without
// sockets. A Session is not safe for concurrent use; the daemon owns it from a
// single goroutine.
package session

import (
	"errors"
	"net"

	"github.com/1ureka/simp/internal/protocol"
)

// State is the handshake/teardown state of a Session.
type State int

const (
	Idle State = iota
	SynSent
	SynReceived
	Established
	Closed // local FIN awaiting its ACK; otherwise behaves as Idle
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case SynSent:
		return "SYN_SENT"
	case SynReceived:
		return "SYN_RECEIVED"
	case Established:
		return "ESTABLISHED"
	case Closed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

var (
	ErrNotYourTurn      = errors.New("not your turn")
	ErrNoChat           = errors.New("no active chat")
	ErrBusy             = errors.New("already in a chat")
	ErrNoPendingRequest = errors.New("no pending chat request")
	ErrNotConnected     = errors.New("no client connected")
)

// ---------------------------------------------------------------------------
// Events surfaced to the local client
// ---------------------------------------------------------------------------

// EventKind identifies a client-facing notification.
type EventKind int

const (
	EventChatRequest EventKind = iota // From, Port
	EventChatStarted                  // From (the peer's username)
	EventChatMessage                  // From, Message
	EventChatEnded
	EventDelivered // an outstanding datagram was acknowledged
	EventError     // Message
)

// Event is a notification for the local client.
type Event struct {
	Kind    EventKind
	From    string
	Port    int
	Message string
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// Action is an effect requested by a Session transition.
type Action interface {
	action()
}

// Transmit sends an encoded datagram to a peer daemon. Reliable transmissions
// are retransmitted until a later Settle action; the Session never has more
// than one outstanding.
type Transmit struct {
	Datagram *protocol.Datagram
	Data     []byte
	To       *net.UDPAddr
	Reliable bool
}

// Emit delivers an Event to the local client.
type Emit struct {
	Event Event
}

// Settle ends the outstanding reliable transmission: Acked reports whether
// it was acknowledged or must be cancelled.
type Settle struct {
	Acked bool
}

func (Transmit) action() {}
func (Emit) action()     {}
func (Settle) action()   {}

// Snapshot is a read-only copy of the session fields.
type Snapshot struct {
	ID              string
	State           State
	Username        string
	PeerName        string
	Peer            string // empty when no peer is recorded
	Busy            bool
	HasTurn         bool
	PendingAck      bool
	LocalSeq        uint8
	LastReceivedSeq int // -1 until a CHAT has been accepted in this chat
}
