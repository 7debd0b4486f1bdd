package pipeline

import (
	"context"
	"fmt"
	"strings"
)

type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NULL":
		return StateNull, nil
	case "READY":
		return StateReady, nil
	case "PAUSED":
		return StatePaused, nil
	case "PLAYING":
		return StatePlaying, nil
	default:
		return StateNull, fmt.Errorf("unknown state %q", s)
	}
}

// Transition is a single step between two adjacent states.
type Transition int

const (
	NullToReady Transition = iota
	ReadyToPaused
	PausedToPlaying
	PlayingToPaused
	PausedToReady
	ReadyToNull
)

func (t Transition) String() string {
	switch t {
	case NullToReady:
		return "NULL_TO_READY"
	case ReadyToPaused:
		return "READY_TO_PAUSED"
	case PausedToPlaying:
		return "PAUSED_TO_PLAYING"
	case PlayingToPaused:
		return "PLAYING_TO_PAUSED"
	case PausedToReady:
		return "PAUSED_TO_READY"
	case ReadyToNull:
		return "READY_TO_NULL"
	default:
		return "UNKNOWN"
	}
}

func (t Transition) From() State {
	switch t {
	case NullToReady:
		return StateNull
	case ReadyToPaused, ReadyToNull:
		return StateReady
	case PausedToPlaying, PausedToReady:
		return StatePaused
	default:
		return StatePlaying
	}
}

func (t Transition) To() State {
	switch t {
	case NullToReady, PausedToReady:
		return StateReady
	case ReadyToPaused, PlayingToPaused:
		return StatePaused
	case PausedToPlaying:
		return StatePlaying
	default:
		return StateNull
	}
}

// Upward reports whether the transition moves towards Playing.
func (t Transition) Upward() bool {
	return t.To() > t.From()
}

// Transitions lists the steps needed to move from one state to another.
func Transitions(from, to State) []Transition {
	steps := make([]Transition, 0, 3)
	for cur := from; cur != to; {
		var t Transition
		if to > cur {
			t = Transition(cur)
		} else {
			t = PlayingToPaused + Transition(StatePlaying-cur)
		}
		steps = append(steps, t)
		cur = t.To()
	}
	return steps
}

// SetState walks n through every intermediate transition until it reaches
// target. The first failing transition aborts the walk.
func SetState(ctx context.Context, n Node, target State) error {
	for _, t := range Transitions(n.State(), target) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.ChangeState(ctx, t); err != nil {
			return fmt.Errorf("%s %s: %w", n.Name(), t, err)
		}
	}
	return nil
}
