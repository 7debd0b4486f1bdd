package bins

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/container"
	"github.com/KevinKickass/OpenMediaCore/internal/elements"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/KevinKickass/OpenMediaCore/internal/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const eventually = 3 * time.Second

func transitions(logs *observer.ObservedLogs) []string {
	var out []string
	for _, entry := range logs.FilterMessage("Composite state transition").All() {
		out = append(out, entry.ContextMap()["transition"].(string))
	}
	return out
}

func TestComposite_LifecycleDiagnostics(t *testing.T) {
	full := []string{
		"NULL_TO_READY", "READY_TO_PAUSED", "PAUSED_TO_PLAYING",
		"PLAYING_TO_PAUSED", "PAUSED_TO_READY", "READY_TO_NULL",
	}

	tests := []struct {
		name     string
		legacy   bool
		expected []string
	}{
		{
			name:     "one diagnostic per transition",
			expected: full,
		},
		{
			name:   "legacy fallthrough",
			legacy: true,
			expected: []string{
				"NULL_TO_READY", "READY_TO_PAUSED", "PAUSED_TO_PLAYING",
				"PLAYING_TO_PAUSED", "PAUSED_TO_READY", "PAUSED_TO_READY", "READY_TO_NULL",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			c := newComposer(t, zap.New(core), Options{LegacyFallthrough: tt.legacy})
			comp, err := c.Compose("demux", "mediademux")
			require.NoError(t, err)
			require.NoError(t, comp.SetProperty("port", 0))
			top, _ := host(t, comp, "video_src", "audio_src")

			messages := comp.Bus().Subscribe(32)

			setState(t, top, pipeline.StatePlaying)
			assert.Equal(t, pipeline.StatePlaying, comp.State())
			setState(t, top, pipeline.StateNull)
			assert.Equal(t, pipeline.StateNull, comp.State())

			assert.Equal(t, tt.expected, transitions(logs))

			var posted []string
			for len(messages) > 0 {
				msg := <-messages
				if msg.Type == pipeline.MessageStateChanged {
					posted = append(posted, msg.Data.(pipeline.StateChangedData).Transition)
				}
			}
			assert.Equal(t, tt.expected, posted)
		})
	}
}

func TestComposite_TransitionErrorReturnedVerbatim(t *testing.T) {
	blocker, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer blocker.Close()

	c := newComposer(t, zaptest.NewLogger(t), Options{})
	comp, err := c.Compose("demux", "mediademux")
	require.NoError(t, err)
	defer comp.Close()

	udp, _ := comp.Child("udp-src")
	require.NoError(t, udp.SetProperty("address", "127.0.0.1"))
	require.NoError(t, comp.SetProperty("port", blocker.LocalAddr().(*net.UDPAddr).Port))

	err = pipeline.SetState(t.Context(), comp, pipeline.StatePaused)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "udp-src READY_TO_PAUSED")
	assert.Equal(t, pipeline.StateReady, comp.State())

	setState(t, comp, pipeline.StateNull)
}

func TestComposite_PortProperty(t *testing.T) {
	c := newComposer(t, zaptest.NewLogger(t), Options{})
	comp, err := c.Compose("demux", "mediademux")
	require.NoError(t, err)
	defer comp.Close()

	udp, ok := comp.Child("udp-src")
	require.True(t, ok)

	v, err := comp.Property("port")
	require.NoError(t, err)
	assert.Equal(t, 5000, v)
	assert.Equal(t, 5000, udp.(*elements.UDPSource).IntProperty("port"))

	for _, port := range []int{0, 6000, 65535} {
		require.NoError(t, comp.SetProperty("port", port))
		v, _ := comp.Property("port")
		assert.Equal(t, port, v)
		assert.Equal(t, port, udp.(*elements.UDPSource).IntProperty("port"))
	}

	for _, bad := range []int{-1, 65536} {
		assert.ErrorIs(t, comp.SetProperty("port", bad), pipeline.ErrPropertyRange)
	}
	v, _ = comp.Property("port")
	assert.Equal(t, 65535, v)

	props := comp.Properties()
	require.Len(t, props, 1)
	assert.Equal(t, "port", props[0].Name)
	assert.Equal(t, 65535, props[0].Value)
}

func sendFrames(t *testing.T, conn net.Conn, frames ...*container.Frame) {
	t.Helper()
	for _, f := range frames {
		data, err := f.Encode()
		require.NoError(t, err)
		_, err = conn.Write(data)
		require.NoError(t, err)
	}
}

func startDemux(t *testing.T, definition string, outputs ...string) (*Composite, map[string]*elements.AppSink, net.Conn) {
	t.Helper()
	c := newComposer(t, zaptest.NewLogger(t), Options{})
	comp, err := c.Compose("rx", definition)
	require.NoError(t, err)

	udpNode, _ := comp.Child("udp-src")
	udp := udpNode.(*elements.UDPSource)
	require.NoError(t, udp.SetProperty("address", "127.0.0.1"))
	require.NoError(t, comp.SetProperty("port", 0))

	top, sinks := host(t, comp, outputs...)
	setState(t, top, pipeline.StatePlaying)

	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(udp.BoundPort())))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return comp, sinks, conn
}

func TestComposite_DemuxEndToEnd(t *testing.T) {
	comp, sinks, conn := startDemux(t, "mediademux", "video_src", "audio_src")
	messages := comp.Bus().Subscribe(64)

	sendFrames(t, conn,
		container.TrackHeader(1, "video_00", "video/x-theora"),
		container.TrackHeader(2, "audio_00", "audio/x-vorbis"),
		container.TrackHeader(3, "metadata_00", "application/x-meta"),
	)
	for i := 0; i < 3; i++ {
		pts := time.Duration(i) * 40 * time.Millisecond
		sendFrames(t, conn,
			container.DataFrame(1, pts, 40*time.Millisecond, []byte("video")),
			container.DataFrame(2, pts, 40*time.Millisecond, []byte("audio")),
			container.DataFrame(3, pts, 0, []byte("meta")),
		)
	}

	require.Eventually(t, func() bool {
		return sinks["video_src"].BufferCount() == 3 && sinks["audio_src"].BufferCount() == 3
	}, eventually, 10*time.Millisecond)

	assert.Equal(t, "video", string(sinks["video_src"].Buffers()[0].Data))
	assert.Equal(t, 80*time.Millisecond, sinks["video_src"].Buffers()[2].PTS)
	assert.Equal(t, "audio", string(sinks["audio_src"].Buffers()[1].Data))

	summary := comp.Summary()
	assert.Equal(t, map[string]string{"video": "video_00", "audio": "audio_00"}, summary.Routes)
	assert.Equal(t, []string{"metadata_00"}, summary.Unrouted)
	assert.Empty(t, summary.Error)
	assert.NoError(t, comp.Err())
	assert.Equal(t, "PLAYING", summary.State)

	var routed, unrouted int
	for len(messages) > 0 {
		switch (<-messages).Type {
		case pipeline.MessageRouted:
			routed++
		case pipeline.MessageUnrouted:
			unrouted++
		}
	}
	assert.Equal(t, 2, routed)
	assert.Equal(t, 1, unrouted)
}

func TestComposite_StreamsrcTextHandoff(t *testing.T) {
	comp, sinks, conn := startDemux(t, "streamsrc", "video_src", "audio_src", "text_src")
	messages := comp.Bus().Subscribe(64)

	sendFrames(t, conn,
		container.TrackHeader(1, "subtitle_00", "text/x-raw"),
		container.DataFrame(1, 0, 500*time.Millisecond, []byte("TEST 1")),
	)

	require.Eventually(t, func() bool { return sinks["text_src"].BufferCount() == 1 }, eventually, 10*time.Millisecond)
	assert.Equal(t, "TEST 1", string(sinks["text_src"].Buffers()[0].Data))

	var handoff *pipeline.HandoffData
	for len(messages) > 0 {
		msg := <-messages
		if msg.Type == pipeline.MessageHandoff {
			data := msg.Data.(pipeline.HandoffData)
			handoff = &data
			assert.Equal(t, "text-filter", msg.Source)
		}
	}
	require.NotNil(t, handoff)
	assert.Equal(t, 6, handoff.Size)
	assert.Equal(t, "544553542031", handoff.Hex)
}

func TestComposite_MuxEndToEnd(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()

	c := newComposer(t, zaptest.NewLogger(t), Options{})
	comp, err := c.Compose("tx", "streamsink")
	require.NoError(t, err)
	require.NoError(t, comp.SetProperty("host", "127.0.0.1"))
	require.NoError(t, comp.SetProperty("port", listener.LocalAddr().(*net.UDPAddr).Port))

	top, _ := host(t, comp)
	feeds := make(map[string]*pipeline.Port)
	for _, in := range []string{"video_sink", "audio_sink", "text_sink"} {
		feed := pipeline.NewPort("feed-"+in, pipeline.DirectionOutput, pipeline.CapsAny)
		require.NoError(t, feed.Link(comp.Port(in)))
		feed.SetActive(true)
		feeds[in] = feed
	}
	setState(t, top, pipeline.StatePlaying)

	require.NoError(t, feeds["video_sink"].Push(&pipeline.Buffer{Data: []byte("frame"), PTS: 0}))
	require.NoError(t, feeds["audio_sink"].Push(&pipeline.Buffer{Data: []byte("samples"), PTS: 0}))
	require.NoError(t, feeds["text_sink"].Push(&pipeline.Buffer{Data: []byte("TEST 1"), PTS: 0}))

	var reader container.Reader
	tracks := make(map[uint16]string)
	payloads := make(map[string][]byte)
	buf := make([]byte, 65536)
	require.NoError(t, listener.SetReadDeadline(time.Now().Add(eventually)))
	for len(payloads) < 3 {
		n, _, err := listener.ReadFromUDP(buf)
		require.NoError(t, err)
		frames, err := reader.Feed(buf[:n])
		require.NoError(t, err)
		for _, f := range frames {
			switch f.Type {
			case container.FrameTrackHeader:
				tracks[f.TrackID] = f.Name
			case container.FrameData:
				payloads[tracks[f.TrackID]] = f.Payload
			}
		}
	}

	assert.Equal(t, []byte("frame"), payloads["video_00"])
	assert.Equal(t, []byte("samples"), payloads["audio_00"])
	assert.Equal(t, []byte("TEST 1"), payloads["subtitle_00"])

	udpNode, _ := comp.Child("udp-sink")
	assert.NotZero(t, udpNode.(*elements.UDPSink).Datagrams())
}

func TestComposite_SerialBridge(t *testing.T) {
	var opened []serial.Descriptor
	reader, writer := io.Pipe()
	defer writer.Close()

	c := newComposer(t, zaptest.NewLogger(t), Options{
		UnitDuration: 20 * time.Millisecond,
		OpenDevice: func(d serial.Descriptor) (io.ReadCloser, error) {
			opened = append(opened, d)
			return reader, nil
		},
	})
	comp, err := c.Compose("serial", "serialtextsrc")
	require.NoError(t, err)
	assert.Empty(t, opened)
	assert.Nil(t, comp.Bridge().Session())

	assert.ErrorIs(t, comp.SetProperty("device", ",9600"), serial.ErrEmptyPath)

	require.NoError(t, comp.SetProperty("device", "/dev/ttyS3,115200,7e1"))
	require.Len(t, opened, 1)
	assert.Equal(t, serial.Descriptor{Path: "/dev/ttyS3", Speed: 115200, DataBits: 7, Parity: serial.ParityEven, StopBits: 1}, opened[0])
	v, _ := comp.Property("device")
	assert.Equal(t, "/dev/ttyS3,115200,7e1", v)

	_, err = writer.Write([]byte("TEST 1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return comp.Bridge().Session().Reads() == 1 }, eventually, 5*time.Millisecond)

	top, sinks := host(t, comp, "text_src")
	setState(t, top, pipeline.StatePlaying)

	sink := sinks["text_src"]
	require.Eventually(t, func() bool { return sink.BufferCount() >= 3 }, eventually, 5*time.Millisecond)
	require.NoError(t, comp.EndOfStream())

	select {
	case <-sink.Done():
	case <-time.After(eventually):
		t.Fatal("end-of-stream did not reach the sink")
	}

	bufs := sink.Buffers()
	for i, b := range bufs {
		assert.Len(t, b.Data, serial.DefaultUnitSize)
		assert.True(t, bytes.HasPrefix(b.Data, []byte("TEST 1")))
		assert.Equal(t, time.Duration(i)*20*time.Millisecond, b.PTS)
	}

	_, err = writer.Write([]byte("closed"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, pipeline.StatePlaying, comp.State())
}

func TestComposite_SerialDeviceConfiguredWhilePlaying(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	c := newComposer(t, zaptest.NewLogger(t), Options{
		UnitDuration: 20 * time.Millisecond,
		OpenDevice: func(serial.Descriptor) (io.ReadCloser, error) {
			return reader, nil
		},
	})
	comp, err := c.Compose("serial", "serialtextsrc")
	require.NoError(t, err)

	top, sinks := host(t, comp, "text_src")
	setState(t, top, pipeline.StatePlaying)
	sink := sinks["text_src"]

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, sink.BufferCount())

	require.NoError(t, comp.SetProperty("device", "/dev/ttyS3,9600,8n1"))
	_, err = writer.Write([]byte("TEST 2"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.BufferCount() >= 3 }, eventually, 5*time.Millisecond)
	bufs := sink.Buffers()
	assert.Zero(t, bufs[0].PTS)
	assert.Equal(t, 20*time.Millisecond, bufs[1].PTS)
}
