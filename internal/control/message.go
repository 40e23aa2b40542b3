// Package control implements the JSON control plane between a daemon and its
// local client, over UDP or a WebSocket.
package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRequest is returned for control records that cannot be decoded.
var ErrInvalidRequest = errors.New("invalid request")

// RequestType identifies a client → daemon record.
type RequestType string

const (
	ReqConnect      RequestType = "connect"
	ReqStartChat    RequestType = "start_chat"
	ReqChatResponse RequestType = "chat_response"
	ReqChatMessage  RequestType = "chat_message"
	ReqQuit         RequestType = "quit"

	// Sent by clients that auto-reject a request while already chatting.
	ReqError     RequestType = "error"
	ReqChatEnded RequestType = "chat_ended"
)

// NotificationType identifies a daemon → client record.
type NotificationType string

const (
	NoteConnected   NotificationType = "connected"
	NoteChatRequest NotificationType = "chat_request"
	NoteChatStarted NotificationType = "chat_started"
	NoteChatMessage NotificationType = "chat_message"
	NoteChatEnded   NotificationType = "chat_ended"
	NoteMessageAck  NotificationType = "message_ack"
	NoteError       NotificationType = "error"
)

// Port is a UDP port that decodes from either a JSON number or a numeric string.
type Port int

// UnmarshalJSON implements json.Unmarshaler.
func (p *Port) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %s", data)
	}
	*p = Port(n)
	return nil
}

// Request is a client → daemon record. Only the fields relevant to Type are set.
type Request struct {
	Type       RequestType `json:"type"`
	Username   string      `json:"username,omitempty"`
	TargetPort Port        `json:"target_port,omitempty"`
	TargetIP   string      `json:"target_ip,omitempty"`
	Accept     *bool       `json:"accept,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Notification is a daemon → client record.
type Notification struct {
	Type    NotificationType `json:"type"`
	Message string           `json:"message,omitempty"`
	From    string           `json:"from,omitempty"`
	Port    int              `json:"port,omitempty"`
	With    string           `json:"with,omitempty"`
}

// ParseRequest decodes and checks a single control record.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	switch req.Type {
	case ReqConnect:
		if req.Username == "" {
			return nil, fmt.Errorf("%w: connect without username", ErrInvalidRequest)
		}
	case ReqStartChat:
		if req.TargetPort == 0 {
			return nil, fmt.Errorf("%w: start_chat without target_port", ErrInvalidRequest)
		}
	case ReqChatResponse:
		if req.Accept == nil {
			return nil, fmt.Errorf("%w: chat_response without accept", ErrInvalidRequest)
		}
	case ReqChatMessage, ReqQuit, ReqError, ReqChatEnded:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, req.Type)
	}
	return &req, nil
}

// ParseNotification decodes a daemon → client record.
func ParseNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if n.Type == "" {
		return nil, errors.New("decode notification: missing type")
	}
	return &n, nil
}

// Errorf builds an error notification.
func Errorf(format string, args ...interface{}) Notification {
	return Notification{Type: NoteError, Message: fmt.Sprintf(format, args...)}
}
