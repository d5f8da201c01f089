package jobs

import (
	"errors"
	"fmt"

	"dv-converter/internal/domain"
)

// ErrJobActive is returned when starting a job while another one holds the slot.
var ErrJobActive = errors.New("a conversion job is already active")

// Machine enforces the job lifecycle edges. It has no lock: it belongs to the
// single goroutine that owns the job.
type Machine struct {
	state domain.JobState
}

// NewMachine creates a machine in idle state.
func NewMachine() *Machine {
	return &Machine{state: domain.JobStateIdle}
}

// State returns the current state.
func (m *Machine) State() domain.JobState {
	return m.state
}

// Begin claims the slot for a new job and moves it to probing. A terminal job
// is released implicitly.
func (m *Machine) Begin() error {
	if m.state.Active() {
		return ErrJobActive
	}
	m.state = domain.JobStateProbing
	return nil
}

// Transition validates and applies one state change.
func (m *Machine) Transition(to domain.JobState) error {
	if to == m.state {
		return nil
	}
	if !isValidTransition(m.state, to) {
		return fmt.Errorf("invalid transition: %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

// Reset returns a terminal or idle machine to idle.
func (m *Machine) Reset() error {
	if m.state.Active() {
		return ErrJobActive
	}
	m.state = domain.JobStateIdle
	return nil
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobState) bool {
	switch from {
	case domain.JobStateIdle:
		return to == domain.JobStateProbing
	case domain.JobStateProbing:
		return to == domain.JobStateRunning || to == domain.JobStateFailed
	case domain.JobStateRunning:
		return to == domain.JobStateCancelling || to == domain.JobStateCompleted || to == domain.JobStateFailed
	case domain.JobStateCancelling:
		return to == domain.JobStateCancelled
	case domain.JobStateCompleted, domain.JobStateFailed, domain.JobStateCancelled:
		return to == domain.JobStateProbing || to == domain.JobStateIdle
	default:
		return false
	}
}
