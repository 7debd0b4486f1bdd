package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	assert.Equal(t, []Transition{NullToReady, ReadyToPaused, PausedToPlaying},
		Transitions(StateNull, StatePlaying))
	assert.Equal(t, []Transition{PlayingToPaused, PausedToReady, ReadyToNull},
		Transitions(StatePlaying, StateNull))
	assert.Equal(t, []Transition{PausedToReady}, Transitions(StatePaused, StateReady))
	assert.Empty(t, Transitions(StateReady, StateReady))

	for _, tr := range []Transition{NullToReady, ReadyToPaused, PausedToPlaying} {
		assert.True(t, tr.Upward(), tr.String())
	}
	for _, tr := range []Transition{PlayingToPaused, PausedToReady, ReadyToNull} {
		assert.False(t, tr.Upward(), tr.String())
	}
}

func TestParseState(t *testing.T) {
	s, err := ParseState("playing")
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, s)

	_, err = ParseState("running")
	assert.Error(t, err)
}

func TestElement_RejectsOutOfOrderTransition(t *testing.T) {
	n := newFakeNode("n")
	err := n.ChangeState(context.Background(), PausedToPlaying)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateNull, n.State())
}

func TestBin_ChildOrder(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}

	bin := NewBin("bin")
	src := newFakeSource("src", CapsAny)
	filter := newFakeFilter("filter", CapsAny, CapsAny)
	sink := newFakeSink("sink", CapsAny)
	for _, n := range []*fakeNode{src, filter, sink} {
		n.rec = rec
	}

	// Added out of order on purpose
	require.NoError(t, bin.Add(filter, sink, src))
	require.NoError(t, LinkChain(src, filter, sink))

	require.NoError(t, SetState(ctx, bin, StateReady))
	assert.Equal(t, []string{
		"sink:NULL_TO_READY", "filter:NULL_TO_READY", "src:NULL_TO_READY",
	}, rec.all())

	rec.steps = nil
	require.NoError(t, SetState(ctx, bin, StatePlaying))
	require.NoError(t, SetState(ctx, bin, StatePaused))
	assert.Equal(t, []string{
		"sink:READY_TO_PAUSED", "filter:READY_TO_PAUSED", "src:READY_TO_PAUSED",
		"sink:PAUSED_TO_PLAYING", "filter:PAUSED_TO_PLAYING", "src:PAUSED_TO_PLAYING",
		"src:PLAYING_TO_PAUSED", "filter:PLAYING_TO_PAUSED", "sink:PLAYING_TO_PAUSED",
	}, rec.all())

	assert.Equal(t, StatePaused, bin.State())
	assert.True(t, src.Port("src").IsActive())

	require.NoError(t, SetState(ctx, bin, StateNull))
	assert.False(t, src.Port("src").IsActive())
	assert.Equal(t, StateNull, sink.State())
}

func TestBin_AddRejectsDuplicates(t *testing.T) {
	bin := NewBin("bin")
	require.NoError(t, bin.Add(newFakeNode("a")))
	assert.ErrorIs(t, bin.Add(newFakeNode("a")), ErrDuplicateNode)

	n := newFakeNode("b")
	other := NewBin("other")
	require.NoError(t, other.Add(n))
	assert.ErrorIs(t, bin.Add(n), ErrAlreadyParented)
}

func TestBin_MessagesBubbleUp(t *testing.T) {
	top := NewBin("top")
	inner := NewBin("inner")
	leaf := newFakeNode("leaf")
	require.NoError(t, top.Add(inner))
	require.NoError(t, inner.Add(leaf))

	topMsgs := top.Bus().Subscribe(4)
	innerMsgs := inner.Bus().Subscribe(4)

	leaf.PostMessage(Message{Type: MessageWarning, Data: "hello"})

	select {
	case msg := <-innerMsgs:
		assert.Equal(t, "leaf", msg.Source)
	default:
		t.Fatal("inner bin did not receive message")
	}
	select {
	case msg := <-topMsgs:
		assert.Equal(t, MessageWarning, msg.Type)
		assert.Equal(t, "leaf", msg.Source)
		assert.False(t, msg.Timestamp.IsZero())
	default:
		t.Fatal("top bin did not receive message")
	}
}
