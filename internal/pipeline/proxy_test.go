package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyPort_DeclareValidation(t *testing.T) {
	_, err := NewProxyPort("", SrcTemplate)
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = NewProxyPort("video_src", PortTemplate{Name: "src", Direction: "sideways"})
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	pp, err := NewProxyPort("video_src", SrcTemplate)
	require.NoError(t, err)
	assert.False(t, pp.IsBound())
	assert.Equal(t, DirectionOutput, pp.Direction())
}

func TestProxyPort_UnboundUse(t *testing.T) {
	pp, err := NewProxyPort("text_src", SrcTemplate)
	require.NoError(t, err)

	_, err = pp.QueryCaps()
	assert.ErrorIs(t, err, ErrProxyUnbound)
	assert.ErrorIs(t, pp.Push(NewBuffer([]byte("x"))), ErrProxyUnbound)
	assert.ErrorIs(t, pp.Activate(), ErrProxyNotAdded)
}

func TestProxyPort_CapsPassThrough(t *testing.T) {
	targets := []Caps{"video/x-raw", "audio/x-raw,rate=48000", "text/x-raw,format=utf8", CapsAny}

	for _, caps := range targets {
		t.Run(string(caps), func(t *testing.T) {
			bin := NewBin("composite")
			inner := newFakeSource("inner", caps)
			require.NoError(t, bin.Add(inner))

			pp, err := NewProxyPort("out", SrcTemplate)
			require.NoError(t, err)
			require.NoError(t, pp.Bind(inner.Port("src")))
			require.NoError(t, bin.AddProxyPort(pp))
			require.NoError(t, pp.Activate())

			got, err := pp.QueryCaps()
			require.NoError(t, err)
			assert.Equal(t, caps, got)
			assert.Equal(t, caps, pp.Caps())
			assert.Equal(t, caps, bin.Port("out").Caps())

			// Binding is one-shot
			other := newFakeSource("other", caps)
			assert.ErrorIs(t, pp.Bind(other.Port("src")), ErrProxyAlreadyBound)
		})
	}
}

func TestProxyPort_BindRejections(t *testing.T) {
	t.Run("direction", func(t *testing.T) {
		pp, _ := NewProxyPort("video_sink", SinkTemplate)
		src := newFakeSource("x", CapsAny)
		assert.ErrorIs(t, pp.Bind(src.Port("src")), ErrWrongDirection)
	})

	t.Run("caps", func(t *testing.T) {
		pp, _ := NewProxyPort("video_src", PortTemplate{Name: "src", Direction: DirectionOutput, Caps: "video/x-raw"})
		src := newFakeSource("x", "audio/x-raw")
		assert.ErrorIs(t, pp.Bind(src.Port("src")), ErrCapsIncompatible)
		assert.False(t, pp.IsBound())
	})

	t.Run("missing target", func(t *testing.T) {
		pp, _ := NewProxyPort("video_src", SrcTemplate)
		assert.ErrorIs(t, pp.Bind(nil), ErrPortNotFound)
	})

	t.Run("target already linked", func(t *testing.T) {
		pp, _ := NewProxyPort("video_src", SrcTemplate)
		src := newFakeSource("x", CapsAny)
		other := newFakeSink("y", CapsAny)
		require.NoError(t, src.Port("src").Link(other.Port("sink")))

		err := returnsWithin(t, time.Second, func() error {
			return pp.Bind(src.Port("src"))
		})
		assert.ErrorIs(t, err, ErrAlreadyLinked)
		assert.False(t, pp.IsBound())
	})
}

func TestProxyPort_DataFlowsThroughBin(t *testing.T) {
	ctx := context.Background()

	composite := NewBin("composite")
	filter := newFakeFilter("filter", CapsAny, "video/x-raw")
	require.NoError(t, composite.Add(filter))

	in, err := NewProxyPort("video_sink", SinkTemplate)
	require.NoError(t, err)
	out, err := NewProxyPort("video_src", SrcTemplate)
	require.NoError(t, err)
	require.NoError(t, in.Bind(filter.Port("sink")))
	require.NoError(t, out.Bind(filter.Port("src")))
	require.NoError(t, composite.AddProxyPort(in))
	require.NoError(t, composite.AddProxyPort(out))

	top := NewBin("pipeline")
	upstream := newFakeSource("upstream", CapsAny)
	downstream := newFakeSink("downstream", "video/x-raw")
	require.NoError(t, top.Add(upstream, composite, downstream))
	require.NoError(t, LinkPorts(upstream, "src", composite, "video_sink"))
	require.NoError(t, LinkPorts(composite, "video_src", downstream, "sink"))

	require.NoError(t, SetState(ctx, top, StatePlaying))

	require.NoError(t, upstream.Port("src").Push(NewBuffer([]byte("abc"))))
	require.NoError(t, upstream.Port("src").PushEvent(EventEOS))

	require.Len(t, filter.buffers(), 1)
	require.Len(t, downstream.buffers(), 1)
	assert.Equal(t, []byte("abc"), downstream.buffers()[0].Data)
	assert.Equal(t, []Event{EventEOS}, downstream.events)

	require.NoError(t, SetState(ctx, top, StateNull))
	assert.False(t, out.IsActive())
}
