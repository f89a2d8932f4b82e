package model

import "fmt"

// WorkUnitStatus is the state of a work unit.
type WorkUnitStatus string

const (
	WorkUnitStatusPending WorkUnitStatus = "pending"
	WorkUnitStatusRunning WorkUnitStatus = "running"
	WorkUnitStatusDone    WorkUnitStatus = "done"
	WorkUnitStatusFailed  WorkUnitStatus = "failed"
)

// WorkUnit is one independently assignable slice of development work.
// Two units with the same BoundedContextKey never run concurrently.
type WorkUnit struct {
	ID                string
	Description       string
	AgentKind         AgentKind
	BoundedContextKey string
	Status            WorkUnitStatus
	Attempts          int
	ArtifactRef       string
	Error             string
}

// Validate validates the work unit.
func (u WorkUnit) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("work unit id is required: %w", ErrNotValid)
	}
	if u.BoundedContextKey == "" {
		return fmt.Errorf("work unit %s bounded context key is required: %w", u.ID, ErrNotValid)
	}
	if !u.AgentKind.Development() {
		return fmt.Errorf("work unit %s agent kind %q is not a development agent: %w", u.ID, u.AgentKind, ErrNotValid)
	}
	switch u.Status {
	case WorkUnitStatusPending, WorkUnitStatusRunning, WorkUnitStatusDone, WorkUnitStatusFailed:
	default:
		return fmt.Errorf("work unit %s status %q is invalid: %w", u.ID, u.Status, ErrNotValid)
	}
	return nil
}
