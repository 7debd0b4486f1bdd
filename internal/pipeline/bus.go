package pipeline

import (
	"sync"
	"time"
)

type MessageType string

const (
	MessageStateChanged MessageType = "state_changed"
	MessagePortAdded    MessageType = "port_added"
	MessageRouted       MessageType = "routed"
	MessageUnrouted     MessageType = "unrouted"
	MessageHandoff      MessageType = "handoff"
	MessageWarning      MessageType = "warning"
	MessageError        MessageType = "error"
	MessageEOS          MessageType = "eos"
)

// Message is posted by nodes and bubbles up through every enclosing bin.
type Message struct {
	Type      MessageType `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
	Err       error       `json:"-"`
}

type StateChangedData struct {
	Transition string `json:"transition"`
	Old        string `json:"old_state"`
	New        string `json:"new_state"`
}

type PortAddedData struct {
	Port string `json:"port"`
	Caps string `json:"caps"`
}

type RouteData struct {
	Port     string `json:"port"`
	Category string `json:"category,omitempty"`
	Target   string `json:"target,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type HandoffData struct {
	Size int    `json:"size"`
	PTS  string `json:"pts"`
	Hex  string `json:"hex,omitempty"`
}

// Bus fans messages out to subscribers without blocking the poster.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Message
	closed      bool
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(buffer int) <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *Bus) Unsubscribe(ch <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

func (b *Bus) Post(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			// Skip if channel is full
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
