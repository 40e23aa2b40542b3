package transport

import (
	"context"
	"net"

	"github.com/1ureka/simp/internal/util"
)

const sendBufferSize = 16 // outgoing datagram channel capacity

type outbound struct {
	data []byte
	to   net.Addr
}

// sender is a goroutine-based datagram writer that serializes all writes to
// the peer socket.
type sender struct {
	inbox chan outbound
}

// newSender creates a sender and starts the background loop. The loop exits
// when ctx is cancelled.
func newSender(ctx context.Context, conn net.PacketConn) *sender {
	s := &sender{inbox: make(chan outbound, sendBufferSize)}
	go s.loop(ctx, conn)
	return s
}

// loop is the single-writer goroutine. A failed write is logged and dropped;
// stop-and-wait retransmission covers it for reliable sends.
func (s *sender) loop(ctx context.Context, conn net.PacketConn) {
	for {
		select {
		case out := <-s.inbox:
			if _, err := conn.WriteTo(out.data, out.to); err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				util.LogError("failed to send datagram to %s: %v", out.to, err)
				continue
			}
			util.Stats.AddSent()

		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a datagram for transmission. It blocks if the internal buffer
// is full and returns net.ErrClosed when ctx is already cancelled.
func (s *sender) send(ctx context.Context, data []byte, to net.Addr) error {
	select {
	case <-ctx.Done():
		return net.ErrClosed
	default:
	}

	select {
	case s.inbox <- outbound{data: data, to: to}:
		return nil
	case <-ctx.Done():
		return net.ErrClosed
	}
}
