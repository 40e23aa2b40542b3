package session

import (
	"bytes"
	"fmt"
	"net"
)

// TurnPolicy selects how the first turn of a chat is assigned.
type TurnPolicy string

const (
	// TurnHandshake gives the first turn to the daemon with the lower
	// peer-listening port, using its own port and the remote port learned at
	// SYN time. Both sides evaluate the same pair, so exactly one starts.
	// Equal ports compare IP bytes, lower first; a wildcard or identical IP
	// falls back to the initiator.
	TurnHandshake TurnPolicy = "handshake"

	// TurnLegacy compares the daemon's own peer port with its own client port.
	// The two daemons decide independently, so both or neither may start.
	TurnLegacy TurnPolicy = "legacy"
)

// ParseTurnPolicy validates a policy name. The empty string selects TurnHandshake.
func ParseTurnPolicy(s string) (TurnPolicy, error) {
	switch TurnPolicy(s) {
	case "", TurnHandshake:
		return TurnHandshake, nil
	case TurnLegacy:
		return TurnLegacy, nil
	}
	return "", fmt.Errorf("unknown turn policy %q (want %q or %q)", s, TurnHandshake, TurnLegacy)
}

// Turn records whether this daemon may send the next chat message.
type Turn struct {
	held bool
}

// Held reports whether the turn is currently ours.
func (t *Turn) Held() bool { return t.held }

// assign sets the initial turn when a chat becomes established.
func (t *Turn) assign(policy TurnPolicy, local, remote *net.UDPAddr, clientPort int, initiator bool) {
	switch policy {
	case TurnLegacy:
		t.held = local != nil && local.Port < clientPort
	default:
		switch {
		case local == nil || remote == nil:
			t.held = initiator
		case local.Port != remote.Port:
			t.held = local.Port < remote.Port
		default:
			t.held = lowerIP(local.IP, remote.IP, initiator)
		}
	}
}

// lowerIP reports whether local sorts before remote. A daemon bound to the
// wildcard address cannot see the IP its peer sees, so that case and equal
// IPs return tie.
func lowerIP(local, remote net.IP, tie bool) bool {
	l, r := local.To16(), remote.To16()
	if l == nil || r == nil || local.IsUnspecified() {
		return tie
	}
	switch bytes.Compare(l, r) {
	case -1:
		return true
	case 1:
		return false
	}
	return tie
}

// release gives the turn up after sending a message.
func (t *Turn) release() { t.held = false }

// grant takes the turn after receiving a message.
func (t *Turn) grant() { t.held = true }

func (t *Turn) clear() { t.held = false }
