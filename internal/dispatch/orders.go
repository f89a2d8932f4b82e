package dispatch

import (
	"fmt"

	"github.com/slok/taskflow/internal/model"
)

const (
	slotRequirements    = "requirements"
	slotDesign          = "design"
	slotTestEnvironment = "test-environment"
	slotReview          = "review"
	slotMerge           = "merge"
)

// ComputeWorkOrders returns the work orders a task needs on its current phase. It's a pure
// function of the task kind, phase and workflow mode. Development orders are not included,
// those are created per work unit by the coordinator.
func ComputeWorkOrders(t model.Task, cfg model.ProjectConfig) []model.WorkOrder {
	switch t.Phase {
	case model.PhaseAnalysis:
		req := newOrder(t, model.PhaseAnalysis, slotRequirements, model.AgentKindRequirements)
		design := newOrder(t, model.PhaseAnalysis, slotDesign, model.AgentKindDesign)
		design.DependsOn = req.ID
		return []model.WorkOrder{req, design}

	case model.PhaseTesting:
		if modeOf(t).Testing == model.ModeManual {
			return []model.WorkOrder{newOrder(t, model.PhaseTesting, slotTestEnvironment, model.AgentKindTestEnvironment)}
		}
		suites := TestSuites(t.Kind, cfg)
		orders := make([]model.WorkOrder, 0, len(suites))
		for _, s := range suites {
			orders = append(orders, newOrder(t, model.PhaseTesting, string(s), s))
		}
		return orders

	case model.PhaseCodeReview:
		if modeOf(t).Review == model.ModeManual {
			return nil
		}
		return []model.WorkOrder{newOrder(t, model.PhaseCodeReview, slotReview, model.AgentKindReviewer)}
	}

	return nil
}

// MergeOrder returns the merge order issued after an automated review passed.
func MergeOrder(t model.Task) model.WorkOrder {
	o := newOrder(t, model.PhaseCodeReview, slotMerge, model.AgentKindMerger)
	o.DependsOn = model.WorkOrderID(t.ID, model.PhaseCodeReview, o.Attempt, slotReview)
	return o
}

// DevelopmentOrder returns the order of a work unit. Every unit attempt is a different order.
func DevelopmentOrder(t model.Task, u model.WorkUnit) model.WorkOrder {
	slot := fmt.Sprintf("unit-%s-%d", u.ID, max(u.Attempts, 1))
	o := newOrder(t, model.PhaseInProgress, slot, u.AgentKind)
	o.WorkUnit = &u
	return o
}

// TestSuites returns the automated test suites of a task.
func TestSuites(kind model.TaskKind, cfg model.ProjectConfig) []model.AgentKind {
	if len(cfg.TestSuites) > 0 {
		return append([]model.AgentKind(nil), cfg.TestSuites...)
	}
	if kind == model.TaskKindChore {
		return []model.AgentKind{model.AgentKindBackendTester}
	}
	return []model.AgentKind{model.AgentKindUITester, model.AgentKindBackendTester}
}

// RequiredAgentKinds returns every agent kind the orders can be delegated to.
func RequiredAgentKinds() []model.AgentKind {
	return model.AgentKinds()
}

func newOrder(t model.Task, phase model.Phase, slot string, kind model.AgentKind) model.WorkOrder {
	attempt := t.Attempt(phase)
	return model.WorkOrder{
		ID:        model.WorkOrderID(t.ID, phase, attempt, slot),
		TaskID:    t.ID,
		Phase:     phase,
		Attempt:   attempt,
		Slot:      slot,
		AgentKind: kind,
		Scope:     ScopeFor(t, phase, kind),
	}
}

// ScopeFor returns the scope of an order, restricted to the artifacts of the task the
// agent needs.
func ScopeFor(t model.Task, phase model.Phase, kind model.AgentKind) model.Scope {
	s := model.Scope{
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		Title:     t.Title,
		Kind:      t.Kind,
		Phase:     phase,
		Artifacts: map[model.Phase][]model.Artifact{},
	}

	add := func(p model.Phase, kinds ...model.ArtifactKind) {
		for _, a := range t.Artifacts[p] {
			if len(kinds) > 0 && !containsKind(kinds, a.Kind) {
				continue
			}
			s.Artifacts[p] = append(s.Artifacts[p], a)
		}
	}

	switch {
	case kind == model.AgentKindRequirements:
	case kind == model.AgentKindDesign:
		add(model.PhaseAnalysis, model.ArtifactKindRequirements)
	case kind.Development():
		add(model.PhaseAnalysis, model.ArtifactKindRequirements, model.ArtifactKindDesign)
	case phase == model.PhaseTesting:
		add(model.PhaseInProgress)
		add(model.PhasePullRequest)
	default:
		for p := range t.Artifacts {
			add(p)
		}
	}

	return s
}

func containsKind(kinds []model.ArtifactKind, k model.ArtifactKind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}

func modeOf(t model.Task) model.WorkflowMode {
	if t.Mode == nil {
		return model.DefaultWorkflowMode()
	}
	return *t.Mode
}
