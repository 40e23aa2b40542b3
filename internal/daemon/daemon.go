// Package daemon bridges the local client's control plane and the peer
// datagram socket. A single goroutine owns the chat session; every other
// goroutine only decodes input and posts it to that owner.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/1ureka/simp/internal/control"
	"github.com/1ureka/simp/internal/protocol"
	"github.com/1ureka/simp/internal/session"
	"github.com/1ureka/simp/internal/transport"
	"github.com/1ureka/simp/internal/util"
)

// maxDatagramSize is the largest UDP payload read from the peer socket.
const maxDatagramSize = 64 * 1024

// Options configures a Daemon.
type Options struct {
	PeerAddr   string // host:port for daemon-to-daemon datagrams
	ClientAddr string // host:port for the local client (UDP)
	WSAddr     string // host:port for the WebSocket control plane; "" disables
	Transport  transport.Options
	TurnPolicy session.TurnPolicy
}

// Daemon is one chat endpoint. Create with New, then call Run.
type Daemon struct {
	peer *transport.Transport
	ctl  *control.UDPServer
	ws   *control.WSServer

	sess  *session.Session
	inbox chan interface{}
	ctx   context.Context

	// Fields below are owned by the Run goroutine.
	client   control.Endpoint
	inflight *inflight
	deferred []control.Inbound
	nextID   uint64
}

// inflight is the single outstanding reliable send.
type inflight struct {
	id     uint64
	acked  chan struct{}
	cancel context.CancelFunc
}

// Inbox events besides control.Inbound.
type (
	peerDatagram struct {
		d    *protocol.Datagram
		from *net.UDPAddr
	}
	sendResolved struct {
		id  uint64
		err error
	}
	snapshotReq struct {
		reply chan session.Snapshot
	}
)

// New binds the peer and client sockets (and the WebSocket listener when
// configured). Any bind failure is returned and nothing stays open.
func New(opts Options) (*Daemon, error) {
	peer, err := transport.Listen(opts.PeerAddr, opts.Transport)
	if err != nil {
		return nil, err
	}

	ctl, err := control.ListenUDP(opts.ClientAddr)
	if err != nil {
		peer.Close()
		return nil, err
	}

	var ws *control.WSServer
	if opts.WSAddr != "" {
		if ws, err = control.ListenWS(opts.WSAddr); err != nil {
			peer.Close()
			ctl.Close()
			return nil, err
		}
	}

	local := peer.LocalAddr().(*net.UDPAddr)
	clientPort := ctl.Addr().(*net.UDPAddr).Port

	return &Daemon{
		peer: peer,
		ctl:  ctl,
		ws:   ws,
		sess: session.New(session.Options{
			LocalAddr:  local,
			ClientPort: clientPort,
			TurnPolicy: opts.TurnPolicy,
		}),
		inbox: make(chan interface{}, 64),
	}, nil
}

// PeerAddr returns the bound peer socket address.
func (d *Daemon) PeerAddr() *net.UDPAddr { return d.peer.LocalAddr().(*net.UDPAddr) }

// ClientAddr returns the bound client control socket address.
func (d *Daemon) ClientAddr() *net.UDPAddr { return d.ctl.Addr().(*net.UDPAddr) }

// WSAddr returns the WebSocket listener address, or nil when disabled.
func (d *Daemon) WSAddr() net.Addr {
	if d.ws == nil {
		return nil
	}
	return d.ws.Addr()
}

// Run serves until ctx is cancelled. On return all sockets are closed; a chat
// in progress is ended with a best-effort FIN.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.ctx = ctx

	requests := make(chan control.Inbound, 16)
	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.readPeers(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.ctl.Serve(ctx, requests); err != nil {
			errCh <- err
		}
	}()

	if d.ws != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.ws.Serve(ctx, requests); err != nil {
				errCh <- err
			}
		}()
	}

	util.LogInfo("daemon: peers on %s, client on %s", d.PeerAddr(), d.ClientAddr())
	if d.ws != nil {
		util.LogInfo("daemon: WebSocket client on ws://%s%s", d.ws.Addr(), control.WSPath)
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-errCh:
			runErr = err
			break loop
		case in := <-requests:
			d.handle(in)
		case ev := <-d.inbox:
			d.handle(ev)
		}
	}

	d.shutdown()
	cancel()
	wg.Wait()
	return runErr
}

// Snapshot returns a copy of the session state, read by the owner goroutine.
func (d *Daemon) Snapshot(ctx context.Context) (session.Snapshot, error) {
	req := snapshotReq{reply: make(chan session.Snapshot, 1)}
	select {
	case d.inbox <- req:
	case <-ctx.Done():
		return session.Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.reply:
		return snap, nil
	case <-ctx.Done():
		return session.Snapshot{}, ctx.Err()
	}
}

// readPeers decodes datagrams from other daemons and posts them to the owner.
func (d *Daemon) readPeers(ctx context.Context) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := d.peer.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			util.LogWarning("daemon: read peer socket: %v", err)
			continue
		}

		dg, err := protocol.Decode(buf[:n])
		if err != nil {
			util.Stats.AddMalformed()
			util.LogWarning("daemon: dropping datagram from %s: %v", addr, err)
			continue
		}
		from, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		util.LogDebug("daemon: ← %s from %s", dg, from)

		select {
		case d.inbox <- peerDatagram{d: dg, from: from}:
		case <-ctx.Done():
			return
		}
	}
}

// handle processes one inbox event. A panic is logged and the loop goes on.
func (d *Daemon) handle(ev interface{}) {
	defer func() {
		if r := recover(); r != nil {
			util.LogError("daemon: panic handling %T: %v", ev, r)
		}
	}()

	switch ev := ev.(type) {
	case control.Inbound:
		d.onRequest(ev)
	case peerDatagram:
		d.apply(d.sess.HandleDatagram(ev.d, ev.from))
	case sendResolved:
		d.onSendResolved(ev)
	case snapshotReq:
		ev.reply <- d.sess.Snapshot()
	default:
		panic(fmt.Sprintf("unexpected inbox event %T", ev))
	}
	d.drain()
}

func (d *Daemon) shutdown() {
	for _, a := range d.sess.Quit() {
		if tx, ok := a.(session.Transmit); ok {
			if err := d.peer.Send(tx.Data, tx.To); err != nil {
				util.LogDebug("daemon: final FIN: %v", err)
			}
		}
	}
	if d.inflight != nil {
		d.inflight.cancel()
		d.inflight = nil
	}
	d.peer.Close()
	d.ctl.Close()
	util.LogInfo("daemon: stopped")
}
