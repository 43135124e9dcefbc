// Package realtime contains the ideamart WebSocket gateway and its wire
// protocol. The protocol is deliberately snapshot-based: subscribers receive
// the full ordered message list of a conversation on every change, never an
// incremental diff, which keeps clients free of merge logic.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello authenticates the session (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges authentication (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSubscribe attaches the connection to a conversation's change feed
	// (client -> server). The first TypeMessageList delivery doubles as the
	// subscribe acknowledgement.
	TypeSubscribe = "subscribe"
	// TypeUnsubscribe detaches the active subscription (client -> server).
	TypeUnsubscribe = "unsubscribe"

	// TypeMessageSend requests a new message append (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageEdit requests a content edit (client -> server).
	TypeMessageEdit = "message_edit"
	// TypeMessageDelete requests a hard delete (client -> server).
	TypeMessageDelete = "message_delete"

	// TypeMessageList carries the full ordered message list of the
	// subscribed conversation (server -> client).
	TypeMessageList = "message_list"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeSubscribe,
		TypeUnsubscribe,
		TypeMessageSend,
		TypeMessageEdit,
		TypeMessageDelete,
		TypeMessageList,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload authenticates the connection with a bearer token issued by
// the identity service.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload confirms authentication.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// SubscribePayload attaches the connection to a conversation.
type SubscribePayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessageSendPayload requests a message append.
type MessageSendPayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// MessageEditPayload requests a content edit.
type MessageEditPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// MessageDeletePayload requests a hard delete.
type MessageDeletePayload struct {
	MessageID string `json:"message_id"`
}

// MessageView is the wire form of a message.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

// MessageListPayload is the full resolve-and-deliver snapshot: every
// surviving message of the conversation ascending by created_at.
type MessageListPayload struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageView `json:"messages"`
}

// ErrorPayload is a generic error response payload. Content carries the
// original unsent input back on transient send/edit failures so the client
// can restore it without the user retyping.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Content string `json:"content,omitempty"`
}
