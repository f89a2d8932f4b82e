package model

import "strings"

// Phase is a named state in the task lifecycle.
type Phase string

const (
	PhaseBacklog     Phase = "backlog"
	PhaseAnalysis    Phase = "analysis"
	PhaseInProgress  Phase = "in_progress"
	PhasePullRequest Phase = "pull_request"
	PhaseTesting     Phase = "testing"
	PhaseCodeReview  Phase = "code_review"
	PhaseDone        Phase = "done"
	PhaseBlocked     Phase = "blocked"
)

// Phases returns all the declared phases in lifecycle order, Blocked last.
func Phases() []Phase {
	return []Phase{
		PhaseBacklog, PhaseAnalysis, PhaseInProgress, PhasePullRequest,
		PhaseTesting, PhaseCodeReview, PhaseDone, PhaseBlocked,
	}
}

// Valid returns true if the phase is a declared phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseBacklog, PhaseAnalysis, PhaseInProgress, PhasePullRequest,
		PhaseTesting, PhaseCodeReview, PhaseDone, PhaseBlocked:
		return true
	default:
		return false
	}
}

// InFlight returns true for the phases where work is delegated to agents,
// these are the phases a task can be blocked from.
func (p Phase) InFlight() bool {
	switch p {
	case PhaseAnalysis, PhaseInProgress, PhasePullRequest, PhaseTesting, PhaseCodeReview:
		return true
	default:
		return false
	}
}

// Terminal returns true if no more transitions are possible.
func (p Phase) Terminal() bool { return p == PhaseDone }

// Trigger is the event that causes a transition.
type Trigger string

const (
	TriggerStartAnalysis       Trigger = "start_analysis"
	TriggerConfirmReady        Trigger = "confirm_ready"
	TriggerDevelopmentComplete Trigger = "development_complete"
	TriggerPullRequestRecorded Trigger = "pull_request_recorded"
	TriggerVerdictPass         Trigger = "verdict_pass"
	TriggerVerdictFail         Trigger = "verdict_fail"
	TriggerMergeSucceeded      Trigger = "merge_succeeded"
	TriggerMarkDone            Trigger = "mark_done"
	TriggerBlock               Trigger = "block"
	TriggerClearBlock          Trigger = "clear_block"
)

// Actor is who requested a transition.
type Actor string

const (
	// ActorOperator is a human operator acting through the CLI or the API.
	ActorOperator Actor = "operator"
	// ActorEngine is the orchestration loop.
	ActorEngine Actor = "engine"
)

// OperatorActor returns the actor for a named operator.
func OperatorActor(name string) Actor {
	if name == "" {
		return ActorOperator
	}
	return Actor(string(ActorOperator) + ":" + name)
}

// AgentActor returns the actor used for transitions caused by an agent report.
func AgentActor(kind AgentKind) Actor { return Actor("agent:" + string(kind)) }

// IsOperator returns true if the actor is a human operator.
func (a Actor) IsOperator() bool {
	return a == ActorOperator || strings.HasPrefix(string(a), string(ActorOperator)+":")
}
