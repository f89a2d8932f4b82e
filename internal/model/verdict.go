package model

import (
	"fmt"
	"time"
)

// Outcome is the outcome of a phase's work.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeBlocked Outcome = "blocked"
)

// Verdict is the outcome of one phase attempt, produced exactly once per attempt.
type Verdict struct {
	Phase     Phase
	Outcome   Outcome
	Detail    string
	ReportRef string
	// Attempt and Reporter are set by the aggregator when the verdict is recorded.
	Attempt    int
	Reporter   Actor
	RecordedAt time.Time
}

// Validate validates the verdict.
func (v Verdict) Validate() error {
	if v.Phase != PhaseTesting && v.Phase != PhaseCodeReview {
		return fmt.Errorf("verdicts are only accepted for testing and code review, got %q: %w", v.Phase, ErrNotValid)
	}
	switch v.Outcome {
	case OutcomePass, OutcomeFail, OutcomeBlocked:
	default:
		return fmt.Errorf("verdict outcome %q is invalid: %w", v.Outcome, ErrNotValid)
	}
	return nil
}

// MergeStatus is the result of a merge agent.
type MergeStatus string

const (
	MergeStatusMerged   MergeStatus = "merged"
	MergeStatusConflict MergeStatus = "conflict"
)
