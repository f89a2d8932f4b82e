package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrConflict is returned when a resource was modified by someone else since it was read.
	ErrConflict = errors.New("conflict")

	// ErrTransitionRejected is returned when an illegal phase edge is requested.
	ErrTransitionRejected = errors.New("transition rejected")
	// ErrDispatchTimeout is returned when an agent doesn't acknowledge or complete a work order in time.
	ErrDispatchTimeout = errors.New("dispatch timeout")
	// ErrDispatchInterrupted is returned when a work order was left unfinished by a previous
	// dispatch and its outcome on the agent side is unknown.
	ErrDispatchInterrupted = errors.New("dispatch interrupted")
	// ErrDuplicateVerdict is returned when a verdict for an already resolved attempt is reported.
	ErrDuplicateVerdict = errors.New("duplicate verdict")
	// ErrWorkUnitFailed is returned when a work unit failed after its retry budget.
	ErrWorkUnitFailed = errors.New("work unit failed")
	// ErrConfigurationMissing is used when a project has no configuration and defaults are used.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrModeImmutable is returned when a resolved workflow mode would be replaced.
	ErrModeImmutable = errors.New("workflow mode is immutable")
)

// TransitionRejectedError identifies the invalid edge of a rejected transition.
type TransitionRejectedError struct {
	From    Phase
	To      Phase
	Trigger Trigger
	Cause   string
}

func (e *TransitionRejectedError) Error() string {
	msg := fmt.Sprintf("transition %s -> %s (%s) rejected", e.From, e.To, e.Trigger)
	if e.Cause != "" {
		msg += ": " + e.Cause
	}
	return msg
}

// Is makes errors.Is(err, ErrTransitionRejected) match.
func (e *TransitionRejectedError) Is(target error) bool { return target == ErrTransitionRejected }
