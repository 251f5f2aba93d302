package sequencer

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the sequencer's lifecycle state.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseBootstrapping
	PhasePolling
	PhaseRetrying
	PhaseReady
	PhaseFailed
	PhaseStopped
)

// ErrInvalidTransition is returned when an invalid phase transition is attempted.
var ErrInvalidTransition = errors.New("invalid phase transition")

// ValidTransitions defines allowed phase transitions.
// Key is the current phase, value is the list of valid next phases.
var ValidTransitions = map[Phase][]Phase{
	PhaseNotStarted: {PhaseBootstrapping, PhaseStopped},
	PhaseBootstrapping: {
		PhasePolling,
		PhaseRetrying,
		PhaseReady, // degraded: retries exhausted with an earlier client kept
		PhaseFailed,
		PhaseStopped,
	},
	PhasePolling:  {PhaseReady, PhaseRetrying, PhaseFailed, PhaseStopped},
	PhaseRetrying: {PhaseBootstrapping, PhaseStopped},
	PhaseReady:    {PhaseStopped},
	PhaseFailed:   {PhaseStopped},
}

// CanTransition checks if a transition from one phase to another is valid.
func CanTransition(from, to Phase) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a phase change with metadata.
type Transition struct {
	From      Phase
	To        Phase
	Reason    string
	Timestamp time.Time
}

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhasePolling:
		return "polling"
	case PhaseRetrying:
		return "retrying"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PhaseDescription returns a human-readable description of a phase.
func PhaseDescription(p Phase) string {
	switch p {
	case PhaseNotStarted:
		return "Not started - Load has not been called"
	case PhaseBootstrapping:
		return "Bootstrapping - running early bootstrap under the global timeout"
	case PhasePolling:
		return "Polling - classifying load progress each tick"
	case PhaseRetrying:
		return "Retrying - waiting before the next attempt"
	case PhaseReady:
		return "Ready - client context resolved"
	case PhaseFailed:
		return "Failed - retries exhausted with no client context"
	case PhaseStopped:
		return "Stopped - torn down by Stop or cancellation"
	default:
		return "Unknown phase"
	}
}
