package control

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// Endpoint is where notifications for one local client are written.
type Endpoint interface {
	// Key identifies the client; two endpoints with the same key are the
	// same client.
	Key() string
	Send(n Notification) error
}

// Inbound is a decoded request together with the endpoint that sent it.
// Disconnected is set instead of Request when a WebSocket client goes away.
type Inbound struct {
	From         Endpoint
	Request      *Request
	Disconnected bool
}

// udpEndpoint replies through the server's socket to the client's address.
type udpEndpoint struct {
	conn net.PacketConn
	addr net.Addr
}

func (e *udpEndpoint) Key() string { return "udp:" + e.addr.String() }

func (e *udpEndpoint) Send(n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode %s: %w", n.Type, err)
	}
	if _, err := e.conn.WriteTo(data, e.addr); err != nil {
		return fmt.Errorf("write %s to %s: %w", n.Type, e.addr, err)
	}
	return nil
}

// wsEndpoint serializes writes to a WebSocket connection, guarded by a mutex.
type wsEndpoint struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (e *wsEndpoint) Key() string { return "ws:" + e.conn.RemoteAddr().String() }

func (e *wsEndpoint) Send(n Notification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteJSON(n)
}
