package transcode

import (
	"context"

	"dv-converter/internal/domain"
)

// EventType classifies notifications delivered on a job handle.
type EventType string

const (
	EventState    EventType = "state"
	EventProgress EventType = "progress"
	EventTerminal EventType = "terminal"
)

// Event is one notification for the caller. Exit is set on terminal events.
type Event struct {
	Type       EventType        `json:"type"`
	JobID      string           `json:"jobId"`
	State      domain.JobState  `json:"state"`
	Progress   domain.Progress  `json:"progress"`
	OutputPath string           `json:"outputPath,omitempty"`
	Exit       *domain.ExitInfo `json:"exit,omitempty"`
}

// eventBuffer is the per-handle channel capacity. The last slot is reserved
// for the terminal event.
const eventBuffer = 64

// Handle is the caller's view of one submitted job.
type Handle struct {
	id     string
	o      *Orchestrator
	events chan Event
	done   chan struct{}
	final  domain.JobSnapshot
}

func newHandle(id string, o *Orchestrator) *Handle {
	return &Handle{
		id:     id,
		o:      o,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the job identifier.
func (h *Handle) ID() string {
	return h.id
}

// Events streams progress and state changes. It is closed right after the
// terminal event. Progress events are dropped rather than blocking the job
// when the reader falls behind; Snapshot always has the latest value.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Done is closed once the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel requests cancellation. It is a no-op unless the job is running.
func (h *Handle) Cancel() {
	h.o.cancelJob(h.id)
}

// Snapshot returns the job's current fields.
func (h *Handle) Snapshot() domain.JobSnapshot {
	select {
	case <-h.done:
		return h.final
	default:
	}
	if snap, ok := h.o.snapshotJob(h.id); ok {
		return snap
	}
	<-h.done
	return h.final
}

// Wait blocks until the job is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) (domain.JobSnapshot, error) {
	select {
	case <-h.done:
		return h.final, nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// Release acknowledges the terminal state and frees the job slot.
func (h *Handle) Release() error {
	return h.o.Acknowledge(h.id)
}

// emit delivers a non-terminal event without blocking the owner loop.
func (h *Handle) emit(ev Event) bool {
	if len(h.events) >= cap(h.events)-1 {
		return false
	}
	h.events <- ev
	return true
}

// finish delivers the terminal event, records the final snapshot and closes
// both channels. Only the owner loop calls it, exactly once.
func (h *Handle) finish(ev Event, final domain.JobSnapshot) {
	h.events <- ev
	h.final = final
	close(h.events)
	close(h.done)
}
