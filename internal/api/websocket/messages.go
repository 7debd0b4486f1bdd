package websocket

import (
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Bus messages, one per pipeline message type
	MessageTypeStateChanged MessageType = "state_changed"
	MessageTypePortAdded    MessageType = "port_added"
	MessageTypeRouted       MessageType = "routed"
	MessageTypeUnrouted     MessageType = "unrouted"
	MessageTypeHandoff      MessageType = "handoff"
	MessageTypeWarning      MessageType = "warning"
	MessageTypeError        MessageType = "error"
	MessageTypeEOS          MessageType = "eos"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Composite string      `json:"composite,omitempty"`
	Source    string      `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewBusMessage converts a message posted on a composite's bus.
func NewBusMessage(composite string, msg pipeline.Message) Message {
	out := Message{
		Type:      MessageType(msg.Type),
		Composite: composite,
		Source:    msg.Source,
		Timestamp: msg.Timestamp,
		Data:      msg.Data,
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	if msg.Err != nil {
		out.Error = msg.Err.Error()
	}
	return out
}
