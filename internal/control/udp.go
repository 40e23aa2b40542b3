package control

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/1ureka/simp/internal/util"
)

// maxRecordSize bounds a single control record read from UDP.
const maxRecordSize = 64 * 1024

// UDPServer receives control records from the local client on a UDP socket.
type UDPServer struct {
	conn net.PacketConn
}

// ListenUDP binds the client control socket.
func ListenUDP(addr string) (*UDPServer, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind client port %s: %w", addr, err)
	}
	return &UDPServer{conn: conn}, nil
}

// Addr returns the bound address.
func (s *UDPServer) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the socket and stops Serve.
func (s *UDPServer) Close() error {
	return s.conn.Close()
}

// Serve reads records until ctx is cancelled or the socket is closed, posting
// each valid one to out. Invalid records are logged and answered with an
// error notification. Other read errors, such as an ICMP unreachable surfacing
// on the next read, are logged and skipped.
func (s *UDPServer) Serve(ctx context.Context, out chan<- Inbound) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	buf := make([]byte, maxRecordSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			util.LogWarning("control: read client socket: %v", err)
			continue
		}

		from := &udpEndpoint{conn: s.conn, addr: addr}
		req, err := ParseRequest(buf[:n])
		if err != nil {
			util.LogWarning("control: %v from %s", err, addr)
			if err := from.Send(Errorf("invalid request")); err != nil {
				util.LogDebug("control: %v", err)
			}
			continue
		}
		util.Stats.AddControl()

		select {
		case out <- Inbound{From: from, Request: req}:
		case <-ctx.Done():
			return nil
		}
	}
}
