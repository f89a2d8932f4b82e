package model

import (
	"fmt"
	"time"
)

// TaskKind is the category of a task, it selects the agent mapping.
type TaskKind string

const (
	TaskKindFeature  TaskKind = "feature"
	TaskKindBugfix   TaskKind = "bugfix"
	TaskKindRefactor TaskKind = "refactor"
	TaskKindChore    TaskKind = "chore"
)

// Valid returns true if the kind is a known task kind.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindFeature, TaskKindBugfix, TaskKindRefactor, TaskKindChore:
		return true
	default:
		return false
	}
}

// ArtifactKind labels an artifact reference.
type ArtifactKind string

const (
	ArtifactKindRequirements    ArtifactKind = "requirements"
	ArtifactKindDesign          ArtifactKind = "design"
	ArtifactKindWorkUnit        ArtifactKind = "work-unit"
	ArtifactKindSummary         ArtifactKind = "summary"
	ArtifactKindPullRequest     ArtifactKind = "pull-request"
	ArtifactKindTestReport      ArtifactKind = "test-report"
	ArtifactKindTestEnvironment ArtifactKind = "test-environment"
	ArtifactKindReviewReport    ArtifactKind = "review-report"
	ArtifactKindMerge           ArtifactKind = "merge"
	ArtifactKindOther           ArtifactKind = "other"
)

// Artifact is an opaque reference into the external artifact store.
type Artifact struct {
	Kind ArtifactKind
	Ref  string
}

// HistoryEntry is one accepted transition.
type HistoryEntry struct {
	From      Phase
	To        Phase
	Trigger   Trigger
	Actor     Actor
	Reason    string
	Timestamp time.Time
}

// Task is the unit of work under orchestration.
type Task struct {
	ID        string
	ProjectID string
	Title     string
	Kind      TaskKind
	Phase     Phase
	// BlockedFrom is the phase a blocked task returns to when the block is cleared.
	BlockedFrom Phase
	// Mode is nil until resolved on Analysis -> InProgress.
	Mode      *WorkflowMode
	WorkUnits []WorkUnit
	Artifacts map[Phase][]Artifact
	History   []HistoryEntry
	// Version is the optimistic concurrency token, increased on every update.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the task model.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}
	if t.ProjectID == "" {
		return fmt.Errorf("task project id is required: %w", ErrNotValid)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("task kind %q is invalid: %w", t.Kind, ErrNotValid)
	}
	if !t.Phase.Valid() {
		return fmt.Errorf("task phase %q is invalid: %w", t.Phase, ErrNotValid)
	}
	if t.Phase == PhaseBlocked && !t.BlockedFrom.InFlight() {
		return fmt.Errorf("blocked task requires the phase it was blocked from: %w", ErrNotValid)
	}
	if t.Mode != nil {
		if err := t.Mode.Validate(); err != nil {
			return err
		}
	}
	for _, u := range t.WorkUnits {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created at is required: %w", ErrNotValid)
	}
	return nil
}

// HasArtifact returns true if the task has an artifact of the kind for the phase.
func (t Task) HasArtifact(phase Phase, kind ArtifactKind) bool {
	_, ok := t.Artifact(phase, kind)
	return ok
}

// Artifact returns the latest artifact of the kind for the phase.
func (t Task) Artifact(phase Phase, kind ArtifactKind) (Artifact, bool) {
	as := t.Artifacts[phase]
	for i := len(as) - 1; i >= 0; i-- {
		if as[i].Kind == kind {
			return as[i], true
		}
	}
	return Artifact{}, false
}

// Attempt returns how many times the task has entered the phase. The initial
// Backlog placement counts as the first Backlog attempt.
func (t Task) Attempt(phase Phase) int {
	n := 0
	if phase == PhaseBacklog {
		n = 1
	}
	for _, h := range t.History {
		if h.To == phase {
			n++
		}
	}
	return n
}

// Copy returns a deep copy of the task.
func (t Task) Copy() Task {
	c := t
	if t.Mode != nil {
		m := *t.Mode
		c.Mode = &m
	}
	if t.WorkUnits != nil {
		c.WorkUnits = make([]WorkUnit, len(t.WorkUnits))
		copy(c.WorkUnits, t.WorkUnits)
	}
	if t.Artifacts != nil {
		c.Artifacts = make(map[Phase][]Artifact, len(t.Artifacts))
		for p, as := range t.Artifacts {
			c.Artifacts[p] = append([]Artifact(nil), as...)
		}
	}
	if t.History != nil {
		c.History = make([]HistoryEntry, len(t.History))
		copy(c.History, t.History)
	}
	return c
}

// AddArtifact appends an artifact to the phase, artifacts are never overwritten.
func (t *Task) AddArtifact(phase Phase, a Artifact) {
	if t.Artifacts == nil {
		t.Artifacts = map[Phase][]Artifact{}
	}
	t.Artifacts[phase] = append(t.Artifacts[phase], a)
}

// WorkUnit returns the index of the work unit with the ID or -1.
func (t Task) WorkUnit(id string) int {
	for i, u := range t.WorkUnits {
		if u.ID == id {
			return i
		}
	}
	return -1
}
