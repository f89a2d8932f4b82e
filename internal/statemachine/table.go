package statemachine

import (
	"fmt"

	"github.com/slok/taskflow/internal/model"
)

// Edge is a legal transition of the lifecycle.
type Edge struct {
	From    model.Phase
	To      model.Phase
	Trigger model.Trigger
	// guard returns the rejection cause, empty when the transition is allowed.
	guard func(t model.Task, req TransitionRequest) string
}

var edges = buildEdges()

func buildEdges() []Edge {
	es := []Edge{
		{From: model.PhaseBacklog, To: model.PhaseAnalysis, Trigger: model.TriggerStartAnalysis, guard: operatorOnly},
		{From: model.PhaseAnalysis, To: model.PhaseInProgress, Trigger: model.TriggerConfirmReady, guard: confirmReadyGuard},
		{From: model.PhaseInProgress, To: model.PhasePullRequest, Trigger: model.TriggerDevelopmentComplete, guard: developmentCompleteGuard},
		{From: model.PhasePullRequest, To: model.PhaseTesting, Trigger: model.TriggerPullRequestRecorded, guard: pullRequestGuard},
		{From: model.PhaseTesting, To: model.PhaseCodeReview, Trigger: model.TriggerVerdictPass, guard: verdictGuard(model.PhaseTesting, model.OutcomePass)},
		{From: model.PhaseTesting, To: model.PhaseInProgress, Trigger: model.TriggerVerdictFail, guard: verdictGuard(model.PhaseTesting, model.OutcomeFail)},
		{From: model.PhaseCodeReview, To: model.PhaseDone, Trigger: model.TriggerMergeSucceeded, guard: mergeSucceededGuard},
		{From: model.PhaseCodeReview, To: model.PhaseDone, Trigger: model.TriggerMarkDone, guard: markDoneGuard},
		{From: model.PhaseCodeReview, To: model.PhaseInProgress, Trigger: model.TriggerVerdictFail, guard: reviewFailGuard},
	}

	for _, p := range model.Phases() {
		if !p.InFlight() {
			continue
		}
		es = append(es,
			Edge{From: p, To: model.PhaseBlocked, Trigger: model.TriggerBlock, guard: noGuard},
			Edge{From: model.PhaseBlocked, To: p, Trigger: model.TriggerClearBlock, guard: clearBlockGuard},
		)
	}

	return es
}

// Edges returns the static transition table.
func Edges() []Edge {
	return append([]Edge(nil), edges...)
}

// Allowed returns true if there is any edge from one phase to the other.
func Allowed(from, to model.Phase) bool {
	for _, e := range edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

func findEdge(from, to model.Phase, trigger model.Trigger) (Edge, bool) {
	for _, e := range edges {
		if e.From == from && e.To == to && e.Trigger == trigger {
			return e, true
		}
	}
	return Edge{}, false
}

// target returns the destination of a trigger on the task's current phase.
func target(t model.Task, trigger model.Trigger) (model.Phase, bool) {
	if t.Phase == model.PhaseBlocked && trigger == model.TriggerClearBlock {
		return t.BlockedFrom, t.BlockedFrom != ""
	}
	for _, e := range edges {
		if e.From == t.Phase && e.Trigger == trigger {
			return e.To, true
		}
	}
	return "", false
}

func noGuard(model.Task, TransitionRequest) string { return "" }

func operatorOnly(_ model.Task, req TransitionRequest) string {
	if !req.Actor.IsOperator() {
		return fmt.Sprintf("actor %q is not an operator", req.Actor)
	}
	return ""
}

func confirmReadyGuard(t model.Task, req TransitionRequest) string {
	if cause := operatorOnly(t, req); cause != "" {
		return cause
	}
	if !t.HasArtifact(model.PhaseAnalysis, model.ArtifactKindRequirements) {
		return "requirements artifact is missing"
	}
	if !t.HasArtifact(model.PhaseAnalysis, model.ArtifactKindDesign) {
		return "design artifact is missing"
	}
	if t.Mode == nil && req.Mode == nil {
		return "workflow mode has not been resolved"
	}
	return ""
}

func developmentCompleteGuard(t model.Task, req TransitionRequest) string {
	if len(t.WorkUnits) == 0 {
		return "task has no work units"
	}
	for _, u := range t.WorkUnits {
		if u.Status != model.WorkUnitStatusDone {
			return fmt.Sprintf("work unit %s is %s", u.ID, u.Status)
		}
	}
	if !req.Evidence.DoDValidated {
		return "definition of done has not been validated"
	}
	return ""
}

func pullRequestGuard(t model.Task, _ TransitionRequest) string {
	if !t.HasArtifact(model.PhasePullRequest, model.ArtifactKindPullRequest) {
		return "pull request artifact is missing"
	}
	return ""
}

func verdictGuard(phase model.Phase, outcome model.Outcome) func(model.Task, TransitionRequest) string {
	return func(_ model.Task, req TransitionRequest) string {
		v := req.Evidence.Verdict
		if v == nil {
			return fmt.Sprintf("%s verdict is required", phase)
		}
		if v.Phase != phase || v.Outcome != outcome {
			return fmt.Sprintf("%s %s verdict is required, got %s %s", phase, outcome, v.Phase, v.Outcome)
		}
		return ""
	}
}

func mergeSucceededGuard(t model.Task, req TransitionRequest) string {
	if reviewMode(t) != model.ModeAutomated {
		return "merge completion requires automated review"
	}
	if cause := verdictGuard(model.PhaseCodeReview, model.OutcomePass)(t, req); cause != "" {
		return cause
	}
	if req.Evidence.Merge != model.MergeStatusMerged {
		return fmt.Sprintf("merge status is %q", req.Evidence.Merge)
	}
	return ""
}

func markDoneGuard(t model.Task, req TransitionRequest) string {
	if cause := operatorOnly(t, req); cause != "" {
		return cause
	}
	if reviewMode(t) != model.ModeManual {
		return "tasks with automated review are completed by the merge"
	}
	return ""
}

func reviewFailGuard(t model.Task, req TransitionRequest) string {
	if req.Evidence.Merge == model.MergeStatusConflict {
		return ""
	}
	return verdictGuard(model.PhaseCodeReview, model.OutcomeFail)(t, req)
}

func clearBlockGuard(t model.Task, req TransitionRequest) string {
	if cause := operatorOnly(t, req); cause != "" {
		return cause
	}
	if req.To != t.BlockedFrom {
		return fmt.Sprintf("task was blocked from %s", t.BlockedFrom)
	}
	return ""
}

func reviewMode(t model.Task) model.ModeSetting {
	if t.Mode == nil {
		return model.ModeManual
	}
	return t.Mode.Review
}

// ValidateHistory checks every entry of a history was a legal edge when recorded.
func ValidateHistory(history []model.HistoryEntry) error {
	current := model.PhaseBacklog
	var blockedFrom model.Phase
	for i, h := range history {
		if h.From != current {
			return fmt.Errorf("entry %d starts at %s but task was at %s: %w", i, h.From, current, model.ErrNotValid)
		}
		if _, ok := findEdge(h.From, h.To, h.Trigger); !ok {
			return fmt.Errorf("entry %d %s -> %s (%s) is not a legal edge: %w", i, h.From, h.To, h.Trigger, model.ErrNotValid)
		}
		switch {
		case h.To == model.PhaseBlocked:
			blockedFrom = h.From
		case h.From == model.PhaseBlocked:
			if h.To != blockedFrom {
				return fmt.Errorf("entry %d unblocks to %s but task was blocked from %s: %w", i, h.To, blockedFrom, model.ErrNotValid)
			}
			blockedFrom = ""
		}
		current = h.To
	}
	return nil
}
