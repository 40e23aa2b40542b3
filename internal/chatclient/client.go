// Package chatclient is the client side of the daemon control plane.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/simp/internal/control"
)

// Client talks to one daemon over UDP or a WebSocket. Notifications are read
// in the background and delivered on Notifications until the connection
// fails or is closed.
type Client struct {
	write func(control.Request) error
	close func() error

	notes     chan control.Notification
	done      chan struct{}
	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// DialUDP connects to the daemon's client port.
func DialUDP(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon at %s: %w", addr, err)
	}

	c := newClient(
		func(req control.Request) error {
			data, err := json.Marshal(req)
			if err != nil {
				return err
			}
			_, err = conn.Write(data)
			return err
		},
		conn.Close,
	)

	buf := make([]byte, 64*1024)
	go c.readLoop(func() ([]byte, error) {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	})
	return c, nil
}

// DialWS connects to the daemon's WebSocket control plane.
func DialWS(ctx context.Context, rawURL string) (*Client, error) {
	wsURL, err := NormalizeWSURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	var wmu sync.Mutex
	c := newClient(
		func(req control.Request) error {
			wmu.Lock()
			defer wmu.Unlock()
			return conn.WriteJSON(req)
		},
		conn.Close,
	)

	go c.readLoop(func() ([]byte, error) {
		_, data, err := conn.ReadMessage()
		return data, err
	})
	return c, nil
}

func newClient(write func(control.Request) error, closeFn func() error) *Client {
	return &Client{
		write: write,
		close: closeFn,
		notes: make(chan control.Notification, 16),
		done:  make(chan struct{}),
	}
}

// readLoop delivers notifications until read fails. Undecodable records are
// skipped.
func (c *Client) readLoop(read func() ([]byte, error)) {
	defer close(c.notes)
	for {
		data, err := read()
		if err != nil {
			c.setErr(err)
			return
		}
		n, err := control.ParseNotification(data)
		if err != nil {
			continue
		}
		select {
		case c.notes <- *n:
		case <-c.done:
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Notifications returns the channel of daemon notifications. It is closed
// when the connection ends.
func (c *Client) Notifications() <-chan control.Notification {
	return c.notes
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.close()
	})
	return err
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// Connect registers this client with the daemon under username.
func (c *Client) Connect(username string) error {
	return c.write(control.Request{Type: control.ReqConnect, Username: username})
}

// StartChat asks the daemon to open a chat with the daemon at ip:port. An
// empty ip means the daemon's own address.
func (c *Client) StartChat(port int, ip string) error {
	return c.write(control.Request{Type: control.ReqStartChat, TargetPort: control.Port(port), TargetIP: ip})
}

// Respond answers a pending chat request.
func (c *Client) Respond(accept bool) error {
	return c.write(control.Request{Type: control.ReqChatResponse, Accept: &accept})
}

// Say sends a chat message.
func (c *Client) Say(message string) error {
	return c.write(control.Request{Type: control.ReqChatMessage, Message: message})
}

// Quit leaves the current chat, or releases the daemon when idle.
func (c *Client) Quit() error {
	return c.write(control.Request{Type: control.ReqQuit})
}

// RejectBusy declines a chat request that arrived while already chatting.
func (c *Client) RejectBusy() error {
	if err := c.write(control.Request{Type: control.ReqError, Message: "User already in another chat"}); err != nil {
		return err
	}
	return c.write(control.Request{Type: control.ReqChatEnded})
}

// NormalizeWSURL validates a WebSocket URL and fills in the /ws path. Bare
// host:port values default to ws://.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "ws"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, control.WSPath), nil
}
