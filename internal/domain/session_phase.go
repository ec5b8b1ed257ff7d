package domain

import "errors"

// SessionPhase is the runtime phase of a streaming session.
type SessionPhase string

const (
	PhaseIdle               SessionPhase = "idle"
	PhaseStarting           SessionPhase = "starting"
	PhaseBuffering          SessionPhase = "buffering"
	PhaseAwaitingFileChoice SessionPhase = "awaiting_file_choice"
	PhaseReady              SessionPhase = "ready"
	PhaseFailed             SessionPhase = "failed"
	PhaseCancelled          SessionPhase = "cancelled"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// validPhaseTransitions defines the adjacency list of allowed phase transitions.
var validPhaseTransitions = map[SessionPhase][]SessionPhase{
	PhaseIdle:               {PhaseStarting, PhaseFailed, PhaseCancelled},
	PhaseStarting:           {PhaseBuffering, PhaseAwaitingFileChoice, PhaseReady, PhaseFailed, PhaseCancelled},
	PhaseBuffering:          {PhaseAwaitingFileChoice, PhaseReady, PhaseFailed, PhaseCancelled},
	PhaseAwaitingFileChoice: {PhaseBuffering, PhaseReady, PhaseFailed, PhaseCancelled},
}

// CanTransitionPhase reports whether a transition from one phase to another is valid.
func CanTransitionPhase(from, to SessionPhase) bool {
	for _, t := range validPhaseTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (p SessionPhase) IsTerminal() bool {
	switch p {
	case PhaseReady, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// ToStatus maps the session phase to the published readiness status.
func (p SessionPhase) ToStatus() ReadinessStatus {
	switch p {
	case PhaseIdle, PhaseStarting:
		return StatusProcessing
	case PhaseBuffering:
		return StatusBuffering
	case PhaseAwaitingFileChoice:
		return StatusAwaitingFileChoice
	case PhaseReady:
		return StatusReady
	case PhaseCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}
