package system

import "fmt"

type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	StateStopping
	StateStopped
	StateError
)

func (s SystemState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ValidateTransition reports whether the manager may move from one state
// to another.
func ValidateTransition(from, to SystemState) error {
	validTransitions := map[SystemState][]SystemState{
		StateInitializing: {StateRunning, StateStopping, StateError},
		StateRunning:      {StateStopping, StateError},
		StateStopping:     {StateStopped, StateError},
		StateStopped:      {},
		StateError:        {StateStopping, StateStopped},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
