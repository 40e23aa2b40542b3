// Package transport carries SIMP datagrams between daemons over UDP and
// implements stop-and-wait delivery on top of it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/simp/internal/util"
)

// ErrRetriesExhausted is returned by Deliver when a retry cap is configured
// and no acknowledgement arrived within it.
var ErrRetriesExhausted = errors.New("no acknowledgement after maximum retries")

// DefaultRetransmitInterval is the fixed wait before a datagram is sent again.
const DefaultRetransmitInterval = 5 * time.Second

// Options controls the retransmission policy. The zero value retransmits
// every DefaultRetransmitInterval forever.
type Options struct {
	RetransmitInterval time.Duration
	MaxRetries         int           // 0 = unbounded
	Backoff            float64       // interval multiplier per retry; <= 1 keeps it fixed
	MaxInterval        time.Duration // upper bound for a backed-off interval; 0 = none
}

func (o Options) withDefaults() Options {
	if o.RetransmitInterval <= 0 {
		o.RetransmitInterval = DefaultRetransmitInterval
	}
	if o.Backoff < 1 {
		o.Backoff = 1
	}
	return o
}

// next returns the wait that follows cur under the backoff policy.
func (o Options) next(cur time.Duration) time.Duration {
	if o.Backoff <= 1 {
		return cur
	}
	n := time.Duration(float64(cur) * o.Backoff)
	if o.MaxInterval > 0 && n > o.MaxInterval {
		n = o.MaxInterval
	}
	return n
}

// Transport owns the peer-facing socket. Writes go through a single sender
// goroutine; reads are left to the caller's receive loop.
type Transport struct {
	conn   net.PacketConn
	opts   Options
	sender *sender

	ctx    context.Context
	cancel context.CancelFunc
}

// Listen binds a UDP socket on addr and wraps it in a Transport.
func Listen(addr string, opts Options) (*Transport, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind peer socket %s: %w", addr, err)
	}
	return New(conn, opts), nil
}

// New wraps an existing packet connection. The Transport takes ownership of
// conn and closes it on Close.
func New(conn net.PacketConn, opts Options) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		conn:   conn,
		opts:   opts.withDefaults(),
		sender: newSender(ctx, conn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// LocalAddr returns the bound address of the peer socket.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close stops the sender and closes the socket, unblocking ReadFrom.
func (t *Transport) Close() error {
	t.cancel()
	return t.conn.Close()
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// ReadFrom blocks until a datagram arrives and copies it into buf.
func (t *Transport) ReadFrom(buf []byte) (int, net.Addr, error) {
	n, addr, err := t.conn.ReadFrom(buf)
	if err == nil {
		util.Stats.AddRecv()
	}
	return n, addr, err
}

// Send transmits data once, without waiting for an acknowledgement.
func (t *Transport) Send(data []byte, to net.Addr) error {
	return t.sender.send(t.ctx, data, to)
}

// Deliver sends data and retransmits the identical bytes every interval until
// acked is closed or ctx is cancelled. The caller is suspended on a timer and
// the two channels in between attempts, never polling.
//
// Returns nil when acknowledged, ctx.Err() when cancelled, and
// ErrRetriesExhausted once a configured retry cap is reached.
func (t *Transport) Deliver(ctx context.Context, data []byte, to net.Addr, acked <-chan struct{}) error {
	if err := t.Send(data, to); err != nil {
		return err
	}

	interval := t.opts.RetransmitInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for retries := 0; ; retries++ {
		select {
		case <-acked:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-t.ctx.Done():
			return net.ErrClosed
		case <-timer.C:
		}

		if t.opts.MaxRetries > 0 && retries >= t.opts.MaxRetries {
			return fmt.Errorf("%w (%d) to %s", ErrRetriesExhausted, t.opts.MaxRetries, to)
		}

		util.LogWarning("timeout after %v, retransmitting to %s", interval, to)
		util.Stats.AddRetransmit()
		if err := t.Send(data, to); err != nil {
			return err
		}

		interval = t.opts.next(interval)
		timer.Reset(interval)
	}
}
