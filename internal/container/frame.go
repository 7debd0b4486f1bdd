package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Frame layout: Sync(1) + Type(1) + Length(4) + Payload(Length)
//
// Track header payload: TrackID(2) + NameLen(1) + Name + CapsLen(2) + Caps
// Data payload:         TrackID(2) + PTS(8) + Duration(8) + Data
const (
	SyncByte     = 0xA5
	HeaderSize   = 6
	MaxFrameSize = 1 << 20

	MediaType = "application/x-omc-stream"
)

type FrameType uint8

const (
	FrameTrackHeader FrameType = 0x01
	FrameData        FrameType = 0x02
)

var (
	ErrBadSync       = errors.New("container: bad sync byte")
	ErrFrameTooLarge = errors.New("container: frame too large")
	ErrShortFrame    = errors.New("container: incomplete frame")
	ErrUnknownFrame  = errors.New("container: unknown frame type")
)

type Frame struct {
	Type     FrameType
	TrackID  uint16
	Name     string
	Caps     string
	PTS      time.Duration
	Duration time.Duration
	Payload  []byte
}

// TrackHeader announces a track before any of its data frames.
func TrackHeader(id uint16, name, caps string) *Frame {
	return &Frame{Type: FrameTrackHeader, TrackID: id, Name: name, Caps: caps}
}

func DataFrame(id uint16, pts, duration time.Duration, payload []byte) *Frame {
	return &Frame{Type: FrameData, TrackID: id, PTS: pts, Duration: duration, Payload: payload}
}

// Encode serialises the frame including its header.
func (f *Frame) Encode() ([]byte, error) {
	var payload []byte

	switch f.Type {
	case FrameTrackHeader:
		if len(f.Name) > 0xFF {
			return nil, fmt.Errorf("container: track name too long: %d bytes", len(f.Name))
		}
		if len(f.Caps) > 0xFFFF {
			return nil, fmt.Errorf("container: caps too long: %d bytes", len(f.Caps))
		}
		payload = make([]byte, 2+1+len(f.Name)+2+len(f.Caps))
		binary.BigEndian.PutUint16(payload[0:2], f.TrackID)
		payload[2] = uint8(len(f.Name))
		copy(payload[3:], f.Name)
		off := 3 + len(f.Name)
		binary.BigEndian.PutUint16(payload[off:off+2], uint16(len(f.Caps)))
		copy(payload[off+2:], f.Caps)

	case FrameData:
		payload = make([]byte, 2+8+8+len(f.Payload))
		binary.BigEndian.PutUint16(payload[0:2], f.TrackID)
		binary.BigEndian.PutUint64(payload[2:10], uint64(f.PTS))
		binary.BigEndian.PutUint64(payload[10:18], uint64(f.Duration))
		copy(payload[18:], f.Payload)

	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownFrame, uint8(f.Type))
	}

	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = SyncByte
	frame[1] = uint8(f.Type)
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// DecodeFrame parses one frame from the start of data and returns the number
// of bytes consumed. ErrShortFrame means more input is needed.
func DecodeFrame(data []byte) (*Frame, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, ErrShortFrame
	}
	if data[0] != SyncByte {
		return nil, 0, fmt.Errorf("%w: 0x%02X", ErrBadSync, data[0])
	}

	length := binary.BigEndian.Uint32(data[2:6])
	if length > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	total := HeaderSize + int(length)
	if len(data) < total {
		return nil, 0, ErrShortFrame
	}
	payload := data[HeaderSize:total]

	f := &Frame{Type: FrameType(data[1])}
	switch f.Type {
	case FrameTrackHeader:
		if len(payload) < 3 {
			return nil, 0, fmt.Errorf("container: track header too short: %d bytes", len(payload))
		}
		f.TrackID = binary.BigEndian.Uint16(payload[0:2])
		nameLen := int(payload[2])
		if len(payload) < 3+nameLen+2 {
			return nil, 0, fmt.Errorf("container: truncated track name")
		}
		f.Name = string(payload[3 : 3+nameLen])
		off := 3 + nameLen
		capsLen := int(binary.BigEndian.Uint16(payload[off : off+2]))
		if len(payload) < off+2+capsLen {
			return nil, 0, fmt.Errorf("container: truncated track caps")
		}
		f.Caps = string(payload[off+2 : off+2+capsLen])

	case FrameData:
		if len(payload) < 18 {
			return nil, 0, fmt.Errorf("container: data frame too short: %d bytes", len(payload))
		}
		f.TrackID = binary.BigEndian.Uint16(payload[0:2])
		f.PTS = time.Duration(binary.BigEndian.Uint64(payload[2:10]))
		f.Duration = time.Duration(binary.BigEndian.Uint64(payload[10:18]))
		f.Payload = make([]byte, len(payload)-18)
		copy(f.Payload, payload[18:])

	default:
		return nil, 0, fmt.Errorf("%w: 0x%02X", ErrUnknownFrame, data[1])
	}

	return f, total, nil
}

// Reader reassembles frames from arbitrarily split input.
type Reader struct {
	buf []byte
}

// Feed appends p and returns every complete frame now available. On a
// framing error the buffered input is dropped so the stream can resync on
// the next write.
func (r *Reader) Feed(p []byte) ([]*Frame, error) {
	r.buf = append(r.buf, p...)

	var frames []*Frame
	for {
		f, n, err := DecodeFrame(r.buf)
		if errors.Is(err, ErrShortFrame) {
			break
		}
		if err != nil {
			r.buf = r.buf[:0]
			return frames, err
		}
		frames = append(frames, f)
		r.buf = r.buf[n:]
	}

	if len(r.buf) == 0 {
		r.buf = nil
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

func (r *Reader) Reset() {
	r.buf = nil
}
