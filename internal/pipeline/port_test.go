package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activate(t *testing.T, nodes ...Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, SetState(context.Background(), n, StatePaused))
	}
}

func TestPort_LinkAndPush(t *testing.T) {
	src := newFakeSource("src", "video/x-raw")
	sink := newFakeSink("sink", "video/x-raw,width=640")

	require.NoError(t, src.Port("src").Link(sink.Port("sink")))
	assert.Same(t, sink.Port("sink"), src.Port("src").Peer())
	assert.Same(t, src.Port("src"), sink.Port("sink").Peer())

	// Ports start inactive
	assert.ErrorIs(t, src.Port("src").Push(NewBuffer([]byte("x"))), ErrFlushing)

	activate(t, src, sink)
	require.NoError(t, src.Port("src").Push(NewBuffer([]byte("frame"))))
	require.Len(t, sink.buffers(), 1)
	assert.Equal(t, []byte("frame"), sink.buffers()[0].Data)
}

func TestPort_LinkRejections(t *testing.T) {
	t.Run("caps mismatch", func(t *testing.T) {
		src := newFakeSource("a", "video/x-raw")
		sink := newFakeSink("b", "audio/x-raw")
		err := src.Port("src").Link(sink.Port("sink"))
		assert.ErrorIs(t, err, ErrCapsIncompatible)
		assert.False(t, src.Port("src").IsLinked())
	})

	t.Run("wrong direction", func(t *testing.T) {
		a := newFakeSink("a", CapsAny)
		b := newFakeSink("b", CapsAny)
		assert.ErrorIs(t, a.Port("sink").Link(b.Port("sink")), ErrWrongDirection)
	})

	t.Run("already linked", func(t *testing.T) {
		src := newFakeSource("a", CapsAny)
		first := newFakeSink("b", CapsAny)
		second := newFakeSink("c", CapsAny)
		require.NoError(t, src.Port("src").Link(first.Port("sink")))

		err := returnsWithin(t, time.Second, func() error {
			return src.Port("src").Link(second.Port("sink"))
		})
		assert.ErrorIs(t, err, ErrAlreadyLinked)
		assert.EqualError(t, err, "link a.src -> c.sink: port already linked")
		assert.Same(t, first.Port("sink"), src.Port("src").Peer())
	})
}

// returnsWithin runs f and fails the test if it blocks longer than d.
func returnsWithin(t *testing.T, d time.Duration, f func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- f() }()

	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatalf("call did not return within %s", d)
		return nil
	}
}

func TestPort_PushUnlinked(t *testing.T) {
	src := newFakeSource("src", CapsAny)
	activate(t, src)
	assert.ErrorIs(t, src.Port("src").Push(NewBuffer(nil)), ErrNotLinked)
}

func TestPort_Unlink(t *testing.T) {
	src := newFakeSource("src", CapsAny)
	sink := newFakeSink("sink", CapsAny)
	require.NoError(t, src.Port("src").Link(sink.Port("sink")))

	sink.Port("sink").Unlink()
	assert.False(t, src.Port("src").IsLinked())
	assert.False(t, sink.Port("sink").IsLinked())

	// Relinking works after unlink
	require.NoError(t, src.Port("src").Link(sink.Port("sink")))
}

func TestElement_AddPortNotifiesListeners(t *testing.T) {
	n := newFakeNode("demux")
	var seen []string
	n.OnPortAdded(func(owner Node, p *Port) {
		assert.Same(t, n, owner)
		seen = append(seen, p.Name())
	})

	require.NoError(t, n.AddPort(NewPort("video_00", DirectionOutput, CapsAny)))
	require.NoError(t, n.AddPort(NewPort("audio_00", DirectionOutput, CapsAny)))
	assert.ErrorIs(t, n.AddPort(NewPort("audio_00", DirectionOutput, CapsAny)), ErrDuplicatePort)

	assert.Equal(t, []string{"video_00", "audio_00"}, seen)
	assert.Equal(t, "demux.video_00", n.Port("video_00").Path())
}
