package elements

import (
	"testing"

	"github.com/KevinKickass/OpenMediaCore/internal/container"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func encode(t *testing.T, frames ...*container.Frame) []byte {
	t.Helper()
	var out []byte
	for _, f := range frames {
		data, err := f.Encode()
		require.NoError(t, err)
		out = append(out, data...)
	}
	return out
}

func TestDemuxer_ExposesTracks(t *testing.T) {
	logger := zaptest.NewLogger(t)
	demux := NewDemuxer("demux", logger)
	videoOut := NewAppSink("video-out", logger)
	teardown(t, demux, videoOut)
	setState(t, pipeline.StatePaused, videoOut, demux)

	var added []string
	demux.OnPortAdded(func(n pipeline.Node, p *pipeline.Port) {
		added = append(added, p.Name())
		assert.True(t, p.IsActive())
		if p.Name() == "video_00" {
			require.NoError(t, p.Link(videoOut.Port("sink")))
		}
	})

	feed := feeder(t, container.MediaType, demux.Port("sink"))
	stream := encode(t,
		container.TrackHeader(1, "video_00", "video/x-theora"),
		container.TrackHeader(2, "metadata_00", "application/x-meta"),
		container.DataFrame(1, 0, 40, []byte("v0")),
		container.DataFrame(2, 0, 0, []byte("meta")),
		container.DataFrame(1, 40, 40, []byte("v1")),
	)
	// Split mid-frame to exercise reassembly.
	require.NoError(t, feed.Push(pipeline.NewBuffer(stream[:10])))
	require.NoError(t, feed.Push(pipeline.NewBuffer(stream[10:])))

	assert.Equal(t, []string{"video_00", "metadata_00"}, added)
	assert.Equal(t, 2, demux.Tracks())
	assert.Equal(t, pipeline.Caps("video/x-theora"), demux.Port("video_00").Caps())

	bufs := videoOut.Buffers()
	require.Len(t, bufs, 2)
	assert.Equal(t, []byte("v1"), bufs[1].Data)
	assert.EqualValues(t, 40, bufs[1].PTS)

	require.NoError(t, feed.PushEvent(pipeline.EventEOS))
	assert.True(t, videoOut.IsEOS())
}

func TestDemuxer_RepeatedHeaderIgnored(t *testing.T) {
	demux := NewDemuxer("demux", zaptest.NewLogger(t))
	teardown(t, demux)
	setState(t, pipeline.StatePaused, demux)

	count := 0
	demux.OnPortAdded(func(pipeline.Node, *pipeline.Port) { count++ })

	feed := feeder(t, container.MediaType, demux.Port("sink"))
	hdr := encode(t, container.TrackHeader(1, "audio_00", "audio/x-vorbis"))
	require.NoError(t, feed.Push(pipeline.NewBuffer(hdr)))
	require.NoError(t, feed.Push(pipeline.NewBuffer(hdr)))

	assert.Equal(t, 1, count)
}

func TestDemuxer_CorruptInputSkipped(t *testing.T) {
	demux := NewDemuxer("demux", zaptest.NewLogger(t))
	teardown(t, demux)
	setState(t, pipeline.StatePaused, demux)

	feed := feeder(t, container.MediaType, demux.Port("sink"))
	assert.NoError(t, feed.Push(pipeline.NewBuffer([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06})))

	hdr := encode(t, container.TrackHeader(1, "video_00", "video/x-theora"))
	require.NoError(t, feed.Push(pipeline.NewBuffer(hdr)))
	assert.NotNil(t, demux.Port("video_00"))
}
