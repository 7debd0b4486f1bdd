package container

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, f *Frame) []byte {
	t.Helper()
	data, err := f.Encode()
	require.NoError(t, err)
	return data
}

func TestReader_SplitInput(t *testing.T) {
	var stream []byte
	stream = append(stream, encode(t, TrackHeader(1, "video_00", "video/x-theora"))...)
	stream = append(stream, encode(t, DataFrame(1, 40*time.Millisecond, 40*time.Millisecond, []byte("frame-1")))...)
	stream = append(stream, encode(t, TrackHeader(2, "audio_00", "audio/x-vorbis"))...)

	var r Reader
	var frames []*Frame
	// Feed three bytes at a time
	for i := 0; i < len(stream); i += 3 {
		end := i + 3
		if end > len(stream) {
			end = len(stream)
		}
		got, err := r.Feed(stream[i:end])
		require.NoError(t, err)
		frames = append(frames, got...)
	}

	require.Len(t, frames, 3)
	assert.Equal(t, FrameTrackHeader, frames[0].Type)
	assert.Equal(t, "video_00", frames[0].Name)
	assert.Equal(t, "video/x-theora", frames[0].Caps)

	assert.Equal(t, FrameData, frames[1].Type)
	assert.Equal(t, uint16(1), frames[1].TrackID)
	assert.Equal(t, 40*time.Millisecond, frames[1].PTS)
	assert.Equal(t, []byte("frame-1"), frames[1].Payload)

	assert.Equal(t, "audio_00", frames[2].Name)
	assert.Equal(t, 0, r.Buffered())
}

func TestDecodeFrame_Errors(t *testing.T) {
	_, _, err := DecodeFrame([]byte{SyncByte, 0x01})
	assert.ErrorIs(t, err, ErrShortFrame)

	_, _, err = DecodeFrame([]byte{0x00, 0x01, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrBadSync)

	_, _, err = DecodeFrame([]byte{SyncByte, 0x7F, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrUnknownFrame)

	_, _, err = DecodeFrame([]byte{SyncByte, 0x02, 0xFF, 0xFF, 0xFF, 0xFF})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReader_ResyncsAfterGarbage(t *testing.T) {
	var r Reader
	_, err := r.Feed([]byte("garbage!"))
	require.ErrorIs(t, err, ErrBadSync)
	assert.Equal(t, 0, r.Buffered())

	frames, err := r.Feed(encode(t, TrackHeader(7, "subtitle_00", "text/x-raw")))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(7), frames[0].TrackID)
}

func TestEncode_Limits(t *testing.T) {
	long := make([]byte, 300)
	_, err := TrackHeader(1, string(long), "").Encode()
	assert.Error(t, err)

	_, err = (&Frame{Type: 0x09}).Encode()
	assert.ErrorIs(t, err, ErrUnknownFrame)
}
