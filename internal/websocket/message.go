package websocket

import (
	"encoding/json"
	"time"
)

// Server message types.
const (
	TypeSystem       = "system"
	TypeAlert        = "alert"
	TypeCase         = "case"
	TypeSLABreach    = "sla_breach"
	TypeMovement     = "movement"
	TypePong         = "pong"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
)

// Message defines the structure for server-to-client websocket messages.
type Message struct {
	Type      string `json:"type"`
	Action    string `json:"action,omitempty"`
	Timestamp any    `json:"timestamp,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Room      string `json:"room,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ClientMessage is what clients send: ping, subscribe or unsubscribe.
type ClientMessage struct {
	Action    string `json:"action"`
	Room      string `json:"room,omitempty"`
	Timestamp any    `json:"timestamp,omitempty"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(typ, action string, data any) Message {
	return Message{
		Type:      typ,
		Action:    action,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// Encode serializes m. Message fields are always encodable, so errors are
// only possible for exotic Data values.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// NewErrorMessage builds an encoded error reply.
func NewErrorMessage(text string) []byte {
	b, _ := json.Marshal(Message{Type: TypeError, Message: text})
	return b
}
