package transcode

import (
	"errors"
	"fmt"

	"dv-converter/internal/encoding"
	"dv-converter/internal/jobs"
)

var (
	// ErrInvalidInput covers a missing or unreadable source and an output
	// directory that is missing or not writable. No subprocess is started.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidParameter is returned for unknown color modes or codecs.
	ErrInvalidParameter = encoding.ErrInvalidParameter

	// ErrJobActive is returned when a job is already probing, running or
	// cancelling.
	ErrJobActive = jobs.ErrJobActive

	// ErrSubprocessStart marks a transcoder that could not be launched.
	ErrSubprocessStart = errors.New("transcoder failed to start")

	// ErrClosed is returned once the orchestrator has been shut down.
	ErrClosed = errors.New("orchestrator closed")
)

// JobError is a classified error with optional underlying cause.
type JobError struct {
	Kind    error
	Message string
	Err     error
}

// Error formats job failures for logs and UI.
func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *JobError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func invalidInput(message string, err error) error {
	return &JobError{Kind: ErrInvalidInput, Message: message, Err: err}
}
