package pipeline

import "time"

// Buffer is one unit of media data travelling between ports.
type Buffer struct {
	Data     []byte
	PTS      time.Duration
	Duration time.Duration
}

func NewBuffer(data []byte) *Buffer {
	return &Buffer{Data: data}
}

// Copy returns a deep copy so the receiver may retain it.
func (b *Buffer) Copy() *Buffer {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return &Buffer{Data: data, PTS: b.PTS, Duration: b.Duration}
}

func (b *Buffer) Len() int {
	return len(b.Data)
}

// Event is a control signal that travels downstream alongside buffers.
type Event string

const (
	EventEOS         Event = "eos"
	EventStreamStart Event = "stream-start"
)
