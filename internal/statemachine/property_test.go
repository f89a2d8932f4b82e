package statemachine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/statemachine"
	"github.com/slok/taskflow/internal/storage"
	"github.com/slok/taskflow/internal/storage/memory"
)

// TestMachineProperties drives a task with random requests and checks that the
// history is always legal, that a resolved mode never changes and that Done is
// only reachable through an explicit completion.
func TestMachineProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		repo, err := memory.NewRepository(memory.RepositoryConfig{})
		if err != nil {
			rt.Fatalf("could not create repository: %s", err)
		}
		task := model.Task{ID: "t1", ProjectID: "p1", Kind: model.TaskKindFeature, Phase: model.PhaseBacklog, CreatedAt: time.Now()}
		if err := repo.CreateTask(ctx, task); err != nil {
			rt.Fatalf("could not create task: %s", err)
		}
		m, err := statemachine.NewMachine(statemachine.MachineConfig{Repository: repo})
		if err != nil {
			rt.Fatalf("could not create machine: %s", err)
		}

		phases := model.Phases()
		triggers := []model.Trigger{
			model.TriggerStartAnalysis, model.TriggerConfirmReady, model.TriggerDevelopmentComplete,
			model.TriggerPullRequestRecorded, model.TriggerVerdictPass, model.TriggerVerdictFail,
			model.TriggerMergeSucceeded, model.TriggerMarkDone, model.TriggerBlock, model.TriggerClearBlock,
		}
		actors := []model.Actor{operator, model.ActorEngine, model.AgentActor(model.AgentKindReviewer)}
		outcomes := []model.Outcome{model.OutcomePass, model.OutcomeFail, model.OutcomeBlocked}
		verdictPhases := []model.Phase{model.PhaseTesting, model.PhaseCodeReview}
		merges := []model.MergeStatus{"", model.MergeStatusMerged, model.MergeStatusConflict}
		modes := []model.WorkflowMode{manual, automated, {Testing: model.ModeAutomated, Review: model.ModeManual}}

		var resolved *model.WorkflowMode
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			// Simulate the work other components do between transitions.
			if rapid.Bool().Draw(rt, "produce") {
				produce(ctx, rt, repo)
			}

			req := statemachine.TransitionRequest{
				TaskID:  "t1",
				To:      rapid.SampledFrom(phases).Draw(rt, "to"),
				Trigger: rapid.SampledFrom(triggers).Draw(rt, "trigger"),
				Actor:   rapid.SampledFrom(actors).Draw(rt, "actor"),
				Evidence: statemachine.Evidence{
					DoDValidated: rapid.Bool().Draw(rt, "dod"),
					Merge:        rapid.SampledFrom(merges).Draw(rt, "merge"),
				},
			}
			if rapid.Bool().Draw(rt, "with-verdict") {
				req.Evidence.Verdict = &model.Verdict{
					Phase:   rapid.SampledFrom(verdictPhases).Draw(rt, "verdict-phase"),
					Outcome: rapid.SampledFrom(outcomes).Draw(rt, "outcome"),
				}
			}
			if rapid.Bool().Draw(rt, "with-mode") {
				mode := rapid.SampledFrom(modes).Draw(rt, "mode")
				req.Mode = &mode
			}

			before, err := repo.GetTask(ctx, "t1")
			if err != nil {
				rt.Fatalf("could not get task: %s", err)
			}

			got, err := m.RequestTransition(ctx, req)
			if err != nil {
				if !errors.Is(err, model.ErrTransitionRejected) && !errors.Is(err, model.ErrModeImmutable) {
					rt.Fatalf("unexpected error: %s", err)
				}
				after, _ := repo.GetTask(ctx, "t1")
				if after.Phase != before.Phase || len(after.History) != len(before.History) {
					rt.Fatalf("rejected transition changed the task")
				}
				continue
			}

			if err := statemachine.ValidateHistory(got.History); err != nil {
				rt.Fatalf("illegal history: %s", err)
			}

			if resolved != nil && (got.Mode == nil || *got.Mode != *resolved) {
				rt.Fatalf("mode changed from %s", resolved)
			}
			if got.Mode != nil {
				mode := *got.Mode
				resolved = &mode
			}

			if got.Phase == model.PhaseDone {
				last := got.History[len(got.History)-1]
				if last.From != model.PhaseCodeReview {
					rt.Fatalf("done reached from %s", last.From)
				}
				if last.Trigger == model.TriggerMarkDone && !last.Actor.IsOperator() {
					rt.Fatalf("done marked by %s", last.Actor)
				}
				if last.Trigger == model.TriggerMergeSucceeded && got.Mode.Review != model.ModeAutomated {
					rt.Fatalf("merge completed a manual review task")
				}
			}
		}
	})
}

func produce(ctx context.Context, rt *rapid.T, repo storage.TaskRepository) {
	_, err := storage.MutateTask(ctx, repo, "t1", func(t *model.Task) error {
		switch t.Phase {
		case model.PhaseAnalysis:
			t.AddArtifact(model.PhaseAnalysis, model.Artifact{Kind: model.ArtifactKindRequirements, Ref: "req"})
			t.AddArtifact(model.PhaseAnalysis, model.Artifact{Kind: model.ArtifactKindDesign, Ref: "design"})
		case model.PhaseInProgress:
			t.WorkUnits = []model.WorkUnit{{ID: "u1", AgentKind: model.AgentKindDeveloper, BoundedContextKey: "k", Status: model.WorkUnitStatusDone}}
		case model.PhasePullRequest:
			t.AddArtifact(model.PhasePullRequest, model.Artifact{Kind: model.ArtifactKindPullRequest, Ref: "pr"})
		}
		return nil
	})
	if err != nil {
		rt.Fatalf("could not produce artifacts: %s", err)
	}
}
