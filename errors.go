package ppt2img

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("ppt2img: no store configured")
	ErrStoreClosed = errors.New("ppt2img: store closed")

	// Not found errors.
	ErrJobNotFound        = errors.New("ppt2img: job not found")
	ErrSubscriberNotFound = errors.New("ppt2img: subscriber not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("ppt2img: job already exists")

	// State errors. These indicate a programming error in the caller:
	// under correct use they never surface to external clients.
	ErrInvalidTransition = errors.New("ppt2img: invalid state transition")
	ErrAlreadyTerminal   = errors.New("ppt2img: job already in a terminal state")

	// Admission errors.
	ErrServerBusy = errors.New("ppt2img: server busy")
)

// BusyError is returned by admission when all execution slots are in use.
// It unwraps to ErrServerBusy so callers can match with errors.Is.
type BusyError struct {
	// Active is the number of jobs currently queued or processing.
	Active int
	// Limit is the configured maximum number of active jobs.
	Limit int
}

// Error implements the error interface.
func (e *BusyError) Error() string {
	return fmt.Sprintf("ppt2img: server busy: %d of %d slots in use", e.Active, e.Limit)
}

// Is reports whether target matches ErrServerBusy.
func (e *BusyError) Is(target error) bool { return target == ErrServerBusy }
