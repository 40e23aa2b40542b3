package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/simp/internal/util"
)

// WSPath is the HTTP path the WebSocket control plane is served on.
const WSPath = "/ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSServer accepts a single local client over a WebSocket.
type WSServer struct {
	listener net.Listener
	srv      *http.Server
	out      chan<- Inbound
	ctx      context.Context

	mu     sync.Mutex
	active *websocket.Conn
}

// ListenWS binds the WebSocket control listener.
func ListenWS(addr string) (*WSServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server on %s: %w", addr, err)
	}
	s := &WSServer{listener: listener}

	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, s.handleWS)
	s.srv = &http.Server{Handler: mux}
	return s, nil
}

// Addr returns the bound address.
func (s *WSServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, posting every valid
// record to out.
func (s *WSServer) Serve(ctx context.Context, out chan<- Inbound) error {
	s.mu.Lock()
	s.out, s.ctx = out, ctx
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.srv.Close()
		s.mu.Lock()
		if s.active != nil {
			s.active.Close()
		}
		s.mu.Unlock()
	})
	defer stop()

	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws server: %w", err)
	}
	return nil
}

func (s *WSServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only one client at a time.
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
		return
	}
	s.active = conn
	out, ctx := s.out, s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		conn.Close()
	}()

	util.LogInfo("control: WebSocket client %s connected", conn.RemoteAddr())
	from := &wsEndpoint{conn: conn}
	s.read(ctx, from, out)
	util.LogInfo("control: WebSocket client %s disconnected", conn.RemoteAddr())

	select {
	case out <- Inbound{From: from, Disconnected: true}:
	case <-ctx.Done():
	}
}

func (s *WSServer) read(ctx context.Context, from *wsEndpoint, out chan<- Inbound) {
	conn := from.conn
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		req, err := ParseRequest(data)
		if err != nil {
			util.LogWarning("control: %v from %s", err, conn.RemoteAddr())
			if err := from.Send(Errorf("invalid request")); err != nil {
				return
			}
			continue
		}
		util.Stats.AddControl()

		select {
		case out <- Inbound{From: from, Request: req}:
		case <-ctx.Done():
			return
		}
	}
}
