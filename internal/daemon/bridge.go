package daemon

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/1ureka/simp/internal/control"
	"github.com/1ureka/simp/internal/protocol"
	"github.com/1ureka/simp/internal/session"
	"github.com/1ureka/simp/internal/transport"
	"github.com/1ureka/simp/internal/util"
)

// ---------------------------------------------------------------------------
// Client requests
// ---------------------------------------------------------------------------

func (d *Daemon) onRequest(in control.Inbound) {
	if in.Disconnected {
		if d.isClient(in.From) {
			util.LogInfo("daemon: client %s went away", in.From.Key())
			d.apply(d.sess.Quit())
			d.release()
		}
		return
	}

	req := in.Request
	if req.Type == control.ReqConnect {
		d.register(in.From, req.Username)
		return
	}

	if !d.isClient(in.From) {
		msg := "Not connected"
		if d.client != nil {
			msg = "Daemon already serving a client"
		}
		reply(in.From, control.Errorf("%s", msg))
		return
	}

	if req.Type == control.ReqQuit {
		d.quit()
		return
	}

	// One reliable send at a time: anything that may start another waits.
	if d.inflight != nil {
		util.LogDebug("daemon: deferring %s until the outstanding datagram settles", req.Type)
		d.deferred = append(d.deferred, in)
		return
	}
	d.dispatch(req)
}

func (d *Daemon) dispatch(req *control.Request) {
	var (
		actions []session.Action
		err     error
	)

	switch req.Type {
	case control.ReqStartChat:
		var target *net.UDPAddr
		if target, err = d.resolveTarget(req); err == nil {
			actions, err = d.sess.StartChat(target)
		}
	case control.ReqChatResponse:
		actions, err = d.sess.Respond(*req.Accept)
	case control.ReqChatMessage:
		actions, err = d.sess.SendChat(req.Message)
	case control.ReqError, control.ReqChatEnded:
		// A client that is already chatting declines new requests this way.
		if d.sess.State() != session.SynReceived {
			util.LogDebug("daemon: ignoring client %s outside a pending request", req.Type)
			return
		}
		actions, err = d.sess.Respond(false)
	}

	if err != nil {
		d.notify(control.Errorf("%s", clientError(err)))
		return
	}
	d.apply(actions)
}

func (d *Daemon) register(from control.Endpoint, username string) {
	if d.client != nil && !d.isClient(from) {
		util.LogWarning("daemon: refusing client %s, already serving %s", from.Key(), d.client.Key())
		reply(from, control.Errorf("Daemon already serving a client"))
		return
	}
	if err := d.sess.SetUsername(username); err != nil {
		reply(from, control.Errorf("%s", clientError(err)))
		return
	}
	if d.client == nil {
		util.LogSuccess("daemon: client %s connected as %q", from.Key(), username)
	}
	d.client = from
	d.notify(control.Notification{Type: control.NoteConnected, Message: "Connected to daemon"})
}

func (d *Daemon) quit() {
	// Requests queued behind the outstanding send belong to the chat being left.
	d.deferred = nil

	actions := d.sess.Quit()
	if actions == nil {
		util.LogInfo("daemon: client %s disconnected", d.client.Key())
		d.release()
		return
	}
	d.apply(actions)
}

func (d *Daemon) release() {
	d.client = nil
	d.deferred = nil
	d.sess.ClearUsername()
}

func (d *Daemon) isClient(e control.Endpoint) bool {
	return d.client != nil && d.client.Key() == e.Key()
}

// resolveTarget defaults the target IP to this daemon's own address, or
// loopback when bound to the wildcard address.
func (d *Daemon) resolveTarget(req *control.Request) (*net.UDPAddr, error) {
	ip := req.TargetIP
	if ip == "" {
		local := d.PeerAddr().IP
		if local == nil || local.IsUnspecified() {
			ip = "127.0.0.1"
		} else {
			ip = local.String()
		}
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(int(req.TargetPort))))
}

// drain replays deferred requests once nothing is in flight.
func (d *Daemon) drain() {
	for d.inflight == nil && len(d.deferred) > 0 {
		next := d.deferred[0]
		d.deferred = d.deferred[1:]
		if !d.isClient(next.From) {
			continue
		}
		d.dispatch(next.Request)
	}
}

// ---------------------------------------------------------------------------
// Session actions
// ---------------------------------------------------------------------------

func (d *Daemon) apply(actions []session.Action) {
	for _, a := range actions {
		switch a := a.(type) {
		case session.Transmit:
			util.LogDebug("daemon: → %s to %s", a.Datagram, a.To)
			if a.Reliable {
				d.deliver(a)
			} else if err := d.peer.Send(a.Data, a.To); err != nil {
				util.LogWarning("daemon: send %s: %v", a.Datagram.Operation, err)
			}
		case session.Emit:
			d.notify(notification(a.Event))
		case session.Settle:
			d.settle(a.Acked)
		}
	}
}

// deliver starts the stop-and-wait loop for tx in its own goroutine. The
// result comes back through the inbox tagged with the send id.
func (d *Daemon) deliver(tx session.Transmit) {
	if d.inflight != nil {
		d.inflight.cancel()
	}
	d.nextID++
	ctx, cancel := context.WithCancel(d.ctx)
	f := &inflight{id: d.nextID, acked: make(chan struct{}), cancel: cancel}
	d.inflight = f

	go func() {
		err := d.peer.Deliver(ctx, tx.Data, tx.To, f.acked)
		select {
		case d.inbox <- sendResolved{id: f.id, err: err}:
		case <-d.ctx.Done():
		}
	}()
}

// settle ends the outstanding send. An acknowledged send is released through
// its acked channel so Deliver reports success; anything else is cancelled.
// Either way the session has moved on and the Deliver result will be stale.
func (d *Daemon) settle(acked bool) {
	if d.inflight == nil {
		return
	}
	if acked {
		close(d.inflight.acked)
	} else {
		util.LogDebug("daemon: send %d abandoned", d.inflight.id)
	}
	d.inflight.cancel()
	d.inflight = nil
}

func (d *Daemon) onSendResolved(ev sendResolved) {
	if d.inflight == nil || d.inflight.id != ev.id {
		return
	}
	d.inflight.cancel()
	d.inflight = nil

	switch {
	case ev.err == nil, errors.Is(ev.err, context.Canceled), errors.Is(ev.err, net.ErrClosed):
		return
	case errors.Is(ev.err, transport.ErrRetriesExhausted):
		util.LogWarning("daemon: %v", ev.err)
	default:
		util.LogError("daemon: reliable send failed: %v", ev.err)
	}
	d.apply(d.sess.GiveUp())
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func (d *Daemon) notify(n control.Notification) {
	if d.client == nil {
		util.LogDebug("daemon: no client for %s", n.Type)
		return
	}
	reply(d.client, n)
}

func reply(to control.Endpoint, n control.Notification) {
	if err := to.Send(n); err != nil {
		util.LogWarning("daemon: notify %s: %v", to.Key(), err)
	}
}

func notification(ev session.Event) control.Notification {
	switch ev.Kind {
	case session.EventChatRequest:
		return control.Notification{Type: control.NoteChatRequest, From: ev.From, Port: ev.Port}
	case session.EventChatStarted:
		return control.Notification{Type: control.NoteChatStarted, With: ev.From}
	case session.EventChatMessage:
		return control.Notification{Type: control.NoteChatMessage, From: ev.From, Message: ev.Message}
	case session.EventChatEnded:
		return control.Notification{Type: control.NoteChatEnded}
	case session.EventDelivered:
		return control.Notification{Type: control.NoteMessageAck}
	}
	return control.Errorf("%s", ev.Message)
}

// clientError maps operation errors to the text shown to the user.
func clientError(err error) string {
	switch {
	case errors.Is(err, session.ErrNotYourTurn):
		return "Not your turn"
	case errors.Is(err, session.ErrNoChat):
		return "Not in a chat"
	case errors.Is(err, session.ErrBusy):
		return "Already in a chat"
	case errors.Is(err, session.ErrNoPendingRequest):
		return "No pending chat request"
	case errors.Is(err, session.ErrNotConnected):
		return "Not connected"
	case errors.Is(err, protocol.ErrEncoding):
		return "Only ASCII text can be sent"
	}
	var addrErr *net.AddrError
	var dnsErr *net.DNSError
	if errors.As(err, &addrErr) || errors.As(err, &dnsErr) {
		return "Invalid target address"
	}
	return err.Error()
}
