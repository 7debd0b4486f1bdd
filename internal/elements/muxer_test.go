package elements

import (
	"testing"

	"github.com/KevinKickass/OpenMediaCore/internal/container"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMuxer_RequestPort(t *testing.T) {
	mux := NewMuxer("mux", zaptest.NewLogger(t))

	p, err := mux.RequestPort("video_%u")
	require.NoError(t, err)
	assert.Equal(t, "video_0", p.Name())

	p, err = mux.RequestPort("video_%u")
	require.NoError(t, err)
	assert.Equal(t, "video_1", p.Name())

	_, err = mux.RequestPort("data_%u")
	assert.ErrorIs(t, err, pipeline.ErrNotRequestable)

	require.NoError(t, mux.ReleasePort(p))
	assert.Nil(t, mux.Port("video_1"))
}

func TestMuxer_WritesHeaderThenData(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mux := NewMuxer("mux", logger)
	out := NewAppSink("out", logger)
	teardown(t, mux, out)

	require.NoError(t, pipeline.LinkNodes(mux, out))
	videoIn, err := mux.RequestPort("video_%u")
	require.NoError(t, err)
	audioIn, err := mux.RequestPort("audio_%u")
	require.NoError(t, err)
	setState(t, pipeline.StatePaused, out, mux)

	video := feeder(t, "video/x-theora", videoIn)
	audio := feeder(t, "audio/x-vorbis", audioIn)
	require.NoError(t, video.Push(&pipeline.Buffer{Data: []byte("v0"), PTS: 0}))
	require.NoError(t, audio.Push(&pipeline.Buffer{Data: []byte("a0"), PTS: 0}))
	require.NoError(t, video.Push(&pipeline.Buffer{Data: []byte("v1"), PTS: 40}))

	var frames []*container.Frame
	for _, b := range out.Buffers() {
		f, n, err := container.DecodeFrame(b.Data)
		require.NoError(t, err)
		assert.Equal(t, len(b.Data), n)
		frames = append(frames, f)
	}
	require.Len(t, frames, 5)

	assert.Equal(t, container.FrameTrackHeader, frames[0].Type)
	assert.Equal(t, "video_00", frames[0].Name)
	assert.Equal(t, "video/x-theora", frames[0].Caps)
	assert.Equal(t, []byte("v0"), frames[1].Payload)
	assert.Equal(t, "audio_00", frames[2].Name)
	assert.Equal(t, "audio/x-vorbis", frames[2].Caps)
	assert.Equal(t, container.FrameData, frames[4].Type)
	assert.EqualValues(t, 40, frames[4].PTS)

	require.NoError(t, video.PushEvent(pipeline.EventEOS))
	assert.False(t, out.IsEOS())
	require.NoError(t, audio.PushEvent(pipeline.EventEOS))
	assert.True(t, out.IsEOS())
}

func TestMuxer_FeedsDemuxer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mux := NewMuxer("mux", logger)
	demux := NewDemuxer("demux", logger)
	teardown(t, mux, demux)

	require.NoError(t, pipeline.LinkNodes(mux, demux))
	in, err := mux.RequestPort("subtitle_%u")
	require.NoError(t, err)
	setState(t, pipeline.StatePaused, demux, mux)

	text := feeder(t, "text/x-raw", in)
	require.NoError(t, text.Push(pipeline.NewBuffer([]byte("TEST 1"))))

	p := demux.Port("subtitle_00")
	require.NotNil(t, p)
	assert.Equal(t, pipeline.Caps("text/x-raw"), p.Caps())
}
