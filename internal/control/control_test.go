package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	yes := true

	tests := []struct {
		name string
		in   string
		want *Request
	}{
		{"connect", `{"type":"connect","username":"alice"}`, &Request{Type: ReqConnect, Username: "alice"}},
		{"port as number", `{"type":"start_chat","target_port":6000}`, &Request{Type: ReqStartChat, TargetPort: 6000}},
		{"port as string", `{"type":"start_chat","target_port":"6000","target_ip":"10.0.0.2"}`,
			&Request{Type: ReqStartChat, TargetPort: 6000, TargetIP: "10.0.0.2"}},
		{"response", `{"type":"chat_response","accept":true}`, &Request{Type: ReqChatResponse, Accept: &yes}},
		{"message", `{"type":"chat_message","message":"hi"}`, &Request{Type: ReqChatMessage, Message: "hi"}},
		{"quit", `{"type":"quit"}`, &Request{Type: ReqQuit}},
		{"auto reject", `{"type":"error","message":"User already in another chat"}`,
			&Request{Type: ReqError, Message: "User already in another chat"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.in))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseRequestInvalid(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{}`,
		`{"type":"dance"}`,
		`{"type":"connect"}`,
		`{"type":"start_chat"}`,
		`{"type":"start_chat","target_port":"abc"}`,
		`{"type":"start_chat","target_port":70000}`,
		`{"type":"chat_response"}`,
	} {
		_, err := ParseRequest([]byte(in))
		require.ErrorIs(t, err, ErrInvalidRequest, in)
	}
}

func TestNotificationOmitsUnusedFields(t *testing.T) {
	data, err := json.Marshal(Notification{Type: NoteChatRequest, From: "bob", Port: 6000})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"chat_request","from":"bob","port":6000}`, string(data))

	data, err = json.Marshal(Notification{Type: NoteMessageAck})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"message_ack"}`, string(data))

	n, err := ParseNotification(data)
	require.NoError(t, err)
	require.Equal(t, NoteMessageAck, n.Type)
}

// ---------------------------------------------------------------------------
// UDP endpoint
// ---------------------------------------------------------------------------

func startUDP(t *testing.T) (*UDPServer, chan Inbound) {
	t.Helper()
	srv, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Inbound, 4)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, out) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return srv, out
}

func TestUDPServerPostsRequestsAndAnswersGarbage(t *testing.T) {
	srv, out := startUDP(t)

	client, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte(`{"type":`))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := client.Read(buf)
	require.NoError(t, err)
	reply, err := ParseNotification(buf[:n])
	require.NoError(t, err)
	require.Equal(t, Notification{Type: NoteError, Message: "invalid request"}, *reply)

	_, err = client.Write([]byte(`{"type":"connect","username":"alice"}`))
	require.NoError(t, err)

	select {
	case in := <-out:
		require.Equal(t, ReqConnect, in.Request.Type)
		require.Equal(t, "udp:"+client.LocalAddr().String(), in.From.Key())

		require.NoError(t, in.From.Send(Notification{Type: NoteConnected, Message: "Connected to daemon"}))
		n, err := client.Read(buf)
		require.NoError(t, err)
		reply, err := ParseNotification(buf[:n])
		require.NoError(t, err)
		require.Equal(t, NoteConnected, reply.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("request not posted")
	}
}

// flakyConn fails its first read with a transient error, the way a connected
// UDP socket reports an ICMP port unreachable.
type flakyConn struct {
	net.PacketConn
	failed atomic.Bool
}

func (c *flakyConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if c.failed.CompareAndSwap(false, true) {
		return 0, nil, errors.New("connection refused")
	}
	return c.PacketConn.ReadFrom(p)
}

func TestUDPServerSurvivesReadErrors(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &UDPServer{conn: &flakyConn{PacketConn: conn}}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Inbound, 1)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, out) }()

	client, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte(`{"type":"quit"}`))
	require.NoError(t, err)

	select {
	case in := <-out:
		require.Equal(t, ReqQuit, in.Request.Type)
	case err := <-done:
		t.Fatalf("serve stopped early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request not posted")
	}

	cancel()
	require.NoError(t, <-done)
}

// ---------------------------------------------------------------------------
// WebSocket endpoint
// ---------------------------------------------------------------------------

func startWS(t *testing.T) (string, chan Inbound) {
	t.Helper()
	srv, err := ListenWS("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Inbound, 4)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, out) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return "ws://" + srv.Addr().String() + WSPath, out
}

func TestWSServerSingleClient(t *testing.T) {
	url, out := startWS(t)

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	require.NoError(t, first.WriteJSON(Request{Type: ReqConnect, Username: "alice"}))
	var in Inbound
	select {
	case in = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("request not posted")
	}
	require.Equal(t, "alice", in.Request.Username)

	require.NoError(t, in.From.Send(Notification{Type: NoteConnected}))
	var note Notification
	require.NoError(t, first.ReadJSON(&note))
	require.Equal(t, NoteConnected, note.Type)

	// A second client is turned away while the first is connected.
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()
	_, _, err = second.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	// Garbage is answered, the connection stays up.
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("nope")))
	require.NoError(t, first.ReadJSON(&note))
	require.Equal(t, Notification{Type: NoteError, Message: "invalid request"}, note)

	first.Close()
	select {
	case in := <-out:
		require.True(t, in.Disconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not posted")
	}
}
