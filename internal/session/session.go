package session

import (
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/1ureka/simp/internal/protocol"
	"github.com/1ureka/simp/internal/util"
)

// Options configures a Session.
type Options struct {
	LocalAddr  *net.UDPAddr // this daemon's peer-listening address
	ClientPort int          // this daemon's client-listening port (TurnLegacy only)
	TurnPolicy TurnPolicy
}

// Session is the single chat relationship of one daemon.
type Session struct {
	opts Options

	id       uuid.UUID
	state    State
	username string // local client's username, empty until connect

	localSeq     uint8 // last sequence number sent; wraps modulo 256
	lastRecvSeq  uint8
	haveLastRecv bool

	peer      *net.UDPAddr
	peerName  string
	initiator bool
	busy      bool
	turn      Turn

	pendingAck bool
	pendingTo  *net.UDPAddr // who must acknowledge the outstanding datagram
}

// New creates an idle Session.
func New(opts Options) *Session {
	if opts.TurnPolicy == "" {
		opts.TurnPolicy = TurnHandshake
	}
	return &Session{opts: opts}
}

// ---------------------------------------------------------------------------
// Client registration
// ---------------------------------------------------------------------------

// SetUsername records the local client's username. It must be ASCII because
// it is carried in every datagram.
func (s *Session) SetUsername(name string) error {
	if _, err := protocol.Encode(protocol.Control(protocol.OpAck, 0, name)); err != nil {
		return err
	}
	s.username = name
	return nil
}

// ClearUsername forgets the local client. Incoming SYNs are rejected until a
// new client connects.
func (s *Session) ClearUsername() {
	s.username = ""
}

// ---------------------------------------------------------------------------
// Client-initiated operations
// ---------------------------------------------------------------------------

// StartChat sends a SYN to target: IDLE → SYN_SENT.
func (s *Session) StartChat(target *net.UDPAddr) ([]Action, error) {
	if s.username == "" {
		return nil, ErrNotConnected
	}
	if s.state != Idle || s.busy || s.peer != nil {
		return nil, ErrBusy
	}

	tx, err := s.build(protocol.Control(protocol.OpSyn, s.localSeq, s.username), target, true)
	if err != nil {
		return nil, err
	}

	s.begin(target, "", true)
	s.state = SynSent
	s.expectAck(target)
	s.logf("SYN → %s", target)
	return []Action{tx}, nil
}

// Respond applies the local client's decision on a pending chat request.
// Accepting sends SYN_ACK and establishes the chat; declining sends FIN.
func (s *Session) Respond(accept bool) ([]Action, error) {
	if s.state != SynReceived {
		return nil, ErrNoPendingRequest
	}
	peer := s.peer

	if !accept {
		tx, err := s.build(protocol.Control(protocol.OpFin, s.localSeq, s.username), peer, true)
		if err != nil {
			return nil, err
		}
		s.logf("request from %s declined", peer)
		s.reset(Closed)
		s.expectAck(peer)
		return []Action{tx}, nil
	}

	tx, err := s.build(protocol.Control(protocol.OpSynAck, s.localSeq, s.username), peer, true)
	if err != nil {
		return nil, err
	}
	s.establish()
	s.expectAck(peer)
	return []Action{
		tx,
		Emit{Event{Kind: EventChatStarted, From: s.peerName}},
	}, nil
}

// SendChat sends message to the peer if this daemon holds the turn.
func (s *Session) SendChat(message string) ([]Action, error) {
	if s.state != Established {
		return nil, ErrNoChat
	}
	if !s.turn.Held() || s.pendingAck {
		return nil, ErrNotYourTurn
	}

	seq := s.localSeq + 1
	tx, err := s.build(protocol.Chat(seq, s.username, message), s.peer, true)
	if err != nil {
		return nil, err
	}

	s.localSeq = seq
	s.turn.release()
	s.expectAck(s.peer)
	return []Action{tx}, nil
}

// Quit tears down any chat in progress by sending FIN. The local client is
// told the chat ended. Quit while idle does nothing.
func (s *Session) Quit() []Action {
	if s.peer == nil || (s.state != SynSent && s.state != SynReceived && s.state != Established) {
		return nil
	}
	peer := s.peer

	var actions []Action
	if s.pendingAck {
		actions = append(actions, Settle{Acked: false})
		s.pendingAck = false
	}

	tx, err := s.build(protocol.Control(protocol.OpFin, s.localSeq, s.username), peer, true)
	if err != nil {
		// The username was validated at connect time; reset without FIN.
		util.LogError("failed to encode FIN: %v", err)
		s.reset(Idle)
		return append(actions, Emit{Event{Kind: EventChatEnded}})
	}

	s.logf("FIN → %s (local quit)", peer)
	s.reset(Closed)
	s.expectAck(peer)
	return append(actions, tx, Emit{Event{Kind: EventChatEnded}})
}

// GiveUp abandons the outstanding reliable send after its retry cap was
// reached. Any chat in progress is dropped locally.
func (s *Session) GiveUp() []Action {
	if !s.pendingAck {
		return nil
	}
	s.pendingAck = false
	s.pendingTo = nil

	switch s.state {
	case SynSent, SynReceived, Established:
		s.logf("peer %s not responding, dropping chat", s.peer)
		s.reset(Idle)
		return []Action{
			Emit{Event{Kind: EventError, Message: "Peer not responding"}},
			Emit{Event{Kind: EventChatEnded}},
		}
	case Closed:
		s.state = Idle
	}
	return nil
}

// ---------------------------------------------------------------------------
// Peer datagrams
// ---------------------------------------------------------------------------

// HandleDatagram applies an inbound datagram from a peer daemon. Datagrams
// that make no sense in the current state are answered deterministically
// (FIN for an unwanted SYN) or ignored; they never fail.
func (s *Session) HandleDatagram(d *protocol.Datagram, from *net.UDPAddr) []Action {
	if d.Type == protocol.TypeChat {
		return s.onChat(d, from)
	}

	switch {
	case d.Is(protocol.OpSyn):
		return s.onSyn(d, from)
	case d.Is(protocol.OpSynAck):
		return s.onSynAck(d, from)
	case d.Is(protocol.OpAck):
		return s.onAck(d, from)
	case d.Is(protocol.OpFin):
		return s.onFin(d, from)
	}
	return nil
}

func (s *Session) onSyn(d *protocol.Datagram, from *net.UDPAddr) []Action {
	// A retransmitted SYN from the peer we are already talking to.
	if s.peer != nil && sameAddr(s.peer, from) && (s.state == SynReceived || s.state == Established) {
		util.LogDebug("duplicate SYN from %s ignored", from)
		return nil
	}

	if s.state != Idle || s.busy || s.peer != nil || s.username == "" {
		util.LogInfo("rejecting chat request from %q at %s (state=%s)", d.Username, from, s.state)
		return s.reply(protocol.OpFin, d.Seq, from)
	}

	s.begin(from, d.Username, false)
	s.state = SynReceived
	s.logf("chat request from %q at %s", d.Username, from)
	return []Action{Emit{Event{Kind: EventChatRequest, From: d.Username, Port: from.Port}}}
}

func (s *Session) onSynAck(d *protocol.Datagram, from *net.UDPAddr) []Action {
	if s.peer == nil || !sameAddr(s.peer, from) {
		util.LogDebug("SYN_ACK from unexpected %s ignored", from)
		return nil
	}

	switch s.state {
	case SynSent:
		var actions []Action
		if s.pendingAck {
			// SYN_ACK implies our SYN arrived.
			actions = append(actions, Settle{Acked: true})
			s.pendingAck = false
			s.pendingTo = nil
		}
		s.peerName = d.Username
		s.establish()
		actions = append(actions, s.reply(protocol.OpAck, d.Seq, from)...)
		return append(actions, Emit{Event{Kind: EventChatStarted, From: d.Username}})

	case Established:
		if s.initiator {
			// Our final ACK was lost; the responder is retransmitting.
			return s.reply(protocol.OpAck, d.Seq, from)
		}
	}
	return nil
}

func (s *Session) onAck(d *protocol.Datagram, from *net.UDPAddr) []Action {
	if !s.pendingAck || d.Seq != s.localSeq || s.pendingTo == nil || !sameAddr(s.pendingTo, from) {
		util.LogDebug("unmatched ACK seq=%d from %s ignored", d.Seq, from)
		return nil
	}

	s.pendingAck = false
	s.pendingTo = nil
	if s.state == Closed {
		s.state = Idle
	}
	return []Action{
		Settle{Acked: true},
		Emit{Event{Kind: EventDelivered}},
	}
}

func (s *Session) onFin(d *protocol.Datagram, from *net.UDPAddr) []Action {
	actions := s.reply(protocol.OpAck, d.Seq, from)

	active := s.state == SynSent || s.state == SynReceived || s.state == Established
	if !active || s.peer == nil || !sameAddr(s.peer, from) {
		// Retransmitted FIN after teardown, or a stranger.
		return actions
	}

	if s.pendingAck {
		actions = append(actions, Settle{Acked: false})
		s.pendingAck = false
		s.pendingTo = nil
	}
	s.logf("FIN ← %s", from)
	s.reset(Idle)
	return append(actions, Emit{Event{Kind: EventChatEnded}})
}

func (s *Session) onChat(d *protocol.Datagram, from *net.UDPAddr) []Action {
	if s.state != Established || !sameAddr(s.peer, from) {
		util.LogDebug("CHAT from %s outside an established chat ignored", from)
		return nil
	}

	actions := s.reply(protocol.OpAck, d.Seq, from)

	if s.haveLastRecv && d.Seq == s.lastRecvSeq {
		util.LogDebug("duplicate CHAT seq=%d from %s acknowledged again", d.Seq, from)
		return actions
	}
	s.lastRecvSeq = d.Seq
	s.haveLastRecv = true

	if s.pendingAck {
		// The peer only speaks after receiving our message, so its reply
		// acknowledges ours even if the ACK itself was lost.
		actions = append(actions, Settle{Acked: true}, Emit{Event{Kind: EventDelivered}})
		s.pendingAck = false
		s.pendingTo = nil
	}

	s.turn.grant()
	return append(actions, Emit{Event{Kind: EventChatMessage, From: d.Username, Message: d.Payload}})
}

// ---------------------------------------------------------------------------
// Read access
// ---------------------------------------------------------------------------

// State returns the current state.
func (s *Session) State() State { return s.state }

// Snapshot returns a copy of the session fields.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:           s.state,
		Username:        s.username,
		PeerName:        s.peerName,
		Busy:            s.busy,
		HasTurn:         s.turn.Held(),
		PendingAck:      s.pendingAck,
		LocalSeq:        s.localSeq,
		LastReceivedSeq: -1,
	}
	if s.id != uuid.Nil {
		snap.ID = s.id.String()
	}
	if s.peer != nil {
		snap.Peer = s.peer.String()
	}
	if s.haveLastRecv {
		snap.LastReceivedSeq = int(s.lastRecvSeq)
	}
	return snap
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// begin records a new peer and starts a fresh chat identity.
func (s *Session) begin(peer *net.UDPAddr, peerName string, initiator bool) {
	s.id = uuid.New()
	s.peer = peer
	s.peerName = peerName
	s.initiator = initiator
	s.haveLastRecv = false
	s.turn.clear()
}

func (s *Session) establish() {
	s.state = Established
	s.busy = true
	s.turn.assign(s.opts.TurnPolicy, s.opts.LocalAddr, s.peer, s.opts.ClientPort, s.initiator)
	s.logf("chat established with %q at %s (turn=%v)", s.peerName, s.peer, s.turn.Held())
}

// reset returns to an idle state. The outstanding send, if any, is left to
// the caller.
func (s *Session) reset(to State) {
	s.state = to
	s.peer = nil
	s.peerName = ""
	s.initiator = false
	s.busy = false
	s.haveLastRecv = false
	s.turn.clear()
}

func (s *Session) expectAck(from *net.UDPAddr) {
	s.pendingAck = true
	s.pendingTo = from
}

func (s *Session) build(d *protocol.Datagram, to *net.UDPAddr, reliable bool) (Transmit, error) {
	data, err := protocol.Encode(d)
	if err != nil {
		return Transmit{}, err
	}
	return Transmit{Datagram: d, Data: data, To: to, Reliable: reliable}, nil
}

// reply builds an unreliable CONTROL datagram echoing seq back to addr.
func (s *Session) reply(op protocol.Operation, seq uint8, to *net.UDPAddr) []Action {
	tx, err := s.build(protocol.Control(op, seq, s.username), to, false)
	if err != nil {
		util.LogError("failed to encode %s: %v", op, err)
		return nil
	}
	return []Action{tx}
}

func (s *Session) logf(format string, args ...interface{}) {
	id := "--------"
	if s.id != uuid.Nil {
		id = s.id.String()[:8]
	}
	util.LogInfo("[%s] %s", id, fmt.Sprintf(format, args...))
}

// sameAddr compares UDP endpoints. Loopback addresses of either family are
// treated as equal so a daemon bound to 127.0.0.1 matches "localhost" targets.
func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil || a.Port != b.Port {
		return false
	}
	return a.IP.Equal(b.IP) || (a.IP.IsLoopback() && b.IP.IsLoopback())
}
