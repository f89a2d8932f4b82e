package model

import (
	"fmt"
	"strings"
	"time"
)

// AgentKind identifies the kind of external agent a work order is delegated to.
type AgentKind string

const (
	AgentKindRequirements      AgentKind = "requirements-author"
	AgentKindDesign            AgentKind = "design-author"
	AgentKindDeveloper         AgentKind = "developer"
	AgentKindFrontendDeveloper AgentKind = "frontend-developer"
	AgentKindBackendDeveloper  AgentKind = "backend-developer"
	AgentKindUITester          AgentKind = "ui-tester"
	AgentKindBackendTester     AgentKind = "backend-tester"
	AgentKindTestEnvironment   AgentKind = "test-environment"
	AgentKindReviewer          AgentKind = "reviewer"
	AgentKindMerger            AgentKind = "merger"
)

// AgentKinds returns all the known agent kinds.
func AgentKinds() []AgentKind {
	return []AgentKind{
		AgentKindRequirements, AgentKindDesign,
		AgentKindDeveloper, AgentKindFrontendDeveloper, AgentKindBackendDeveloper,
		AgentKindUITester, AgentKindBackendTester, AgentKindTestEnvironment,
		AgentKindReviewer, AgentKindMerger,
	}
}

// Valid returns true if the agent kind is known.
func (k AgentKind) Valid() bool {
	for _, kk := range AgentKinds() {
		if k == kk {
			return true
		}
	}
	return false
}

// Development returns true if the agent can be assigned work units.
func (k AgentKind) Development() bool {
	return k == AgentKindDeveloper || k == AgentKindFrontendDeveloper || k == AgentKindBackendDeveloper
}

// Scope restricts what an agent can see to the artifacts relevant to its work order.
type Scope struct {
	TaskID    string
	ProjectID string
	Title     string
	Kind      TaskKind
	Phase     Phase
	Artifacts map[Phase][]Artifact
}

// WorkOrder is a scoped request dispatched to one external agent for one phase.
type WorkOrder struct {
	ID        string
	TaskID    string
	Phase     Phase
	Attempt   int
	Slot      string
	AgentKind AgentKind
	Scope     Scope
	// WorkUnit is set on development orders.
	WorkUnit *WorkUnit
	// DependsOn is the ID of the order that must complete before this one is dispatched.
	DependsOn string
}

// WorkOrderID returns the deterministic ID of a work order, re-issuing an order
// for the same task, phase attempt and slot results in the same ID.
func WorkOrderID(taskID string, phase Phase, attempt int, slot string) string {
	return fmt.Sprintf("%s/%s/%d/%s", taskID, phase, attempt, slot)
}

// Validate validates the work order.
func (o WorkOrder) Validate() error {
	if o.ID == "" || o.TaskID == "" {
		return fmt.Errorf("work order id and task id are required: %w", ErrNotValid)
	}
	if !strings.HasPrefix(o.ID, o.TaskID+"/") {
		return fmt.Errorf("work order %s doesn't belong to task %s: %w", o.ID, o.TaskID, ErrNotValid)
	}
	if !o.AgentKind.Valid() {
		return fmt.Errorf("work order agent kind %q is invalid: %w", o.AgentKind, ErrNotValid)
	}
	if o.Scope.TaskID != o.TaskID {
		return fmt.Errorf("work order scope must be restricted to its own task: %w", ErrNotValid)
	}
	return nil
}

// AgentResultStatus is the completion status reported by an agent.
type AgentResultStatus string

const (
	AgentResultStatusDone   AgentResultStatus = "done"
	AgentResultStatusFailed AgentResultStatus = "failed"
)

// AgentResult is what an agent reports when a work order completes.
type AgentResult struct {
	Status      AgentResultStatus
	ArtifactRef string
	Detail      string
	// Verdict is set by test and review agents.
	Verdict *Verdict
	// URLs is set by test environments once published.
	URLs []string
	// Merge is set by merge agents.
	Merge MergeStatus
	// WorkUnits is the partition produced by design authoring.
	WorkUnits []WorkUnit
}

// DispatchStatus is the ledger status of a dispatched work order.
type DispatchStatus string

const (
	DispatchStatusPending      DispatchStatus = "pending"
	DispatchStatusAcknowledged DispatchStatus = "acknowledged"
	DispatchStatusDone         DispatchStatus = "done"
	DispatchStatusFailed       DispatchStatus = "failed"
)

// Finished returns true when the order will not change anymore.
func (s DispatchStatus) Finished() bool {
	return s == DispatchStatusDone || s == DispatchStatusFailed
}

// DispatchRecord is the ledger entry of a work order, keyed by (task, phase, work order ID).
type DispatchRecord struct {
	TaskID      string
	Phase       Phase
	WorkOrderID string
	AgentKind   AgentKind
	Status      DispatchStatus
	Result      *AgentResult
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
