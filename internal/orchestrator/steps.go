package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/slok/taskflow/internal/coordinator"
	"github.com/slok/taskflow/internal/dispatch"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/statemachine"
	"github.com/slok/taskflow/internal/storage"
	"github.com/slok/taskflow/internal/verdict"
)

func (e *Engine) stepAnalysis(ctx context.Context, t model.Task) (Outcome, error) {
	// Orders are recomputed after every result so the design sees the requirements.
	for i := range dispatch.ComputeWorkOrders(t, model.ProjectConfig{}) {
		cur, err := e.repo.GetTask(ctx, t.ID)
		if err != nil {
			return OutcomeParked, err
		}
		order := dispatch.ComputeWorkOrders(*cur, model.ProjectConfig{})[i]
		kind := analysisArtifactKind(order.AgentKind)
		if cur.HasArtifact(model.PhaseAnalysis, kind) {
			continue
		}

		res, err := e.dispatch(ctx, order)
		if err != nil {
			return e.fail(ctx, t, err)
		}
		if res.Status != model.AgentResultStatusDone {
			return e.fail(ctx, t, fmt.Errorf("%s failed: %s", order.AgentKind, res.Detail))
		}
		if _, err := storage.AttachArtifacts(ctx, e.repo, t.ID, model.PhaseAnalysis, model.Artifact{Kind: kind, Ref: res.ArtifactRef}); err != nil {
			return OutcomeParked, err
		}
	}

	e.logger.WithCtxValues(ctx).Infof("Analysis ready, waiting for operator confirmation")
	return OutcomeParked, nil
}

func analysisArtifactKind(k model.AgentKind) model.ArtifactKind {
	if k == model.AgentKindDesign {
		return model.ArtifactKindDesign
	}
	return model.ArtifactKindRequirements
}

func (e *Engine) stepInProgress(ctx context.Context, t model.Task) (Outcome, error) {
	logger := e.logger.WithCtxValues(ctx)

	cfg, err := e.resolver.ProjectConfig(ctx, t.ProjectID)
	if err != nil {
		return e.fail(ctx, t, fmt.Errorf("invalid project configuration: %w", err))
	}

	if _, err := e.coordinator.Plan(ctx, t); err != nil {
		return e.fail(ctx, t, err)
	}

	report, err := e.coordinator.Run(ctx, t.ID)
	if err != nil {
		return e.fail(ctx, t, err)
	}
	if len(report.Failed) > 0 {
		report, err = e.coordinator.Retry(ctx, t.ID)
		if err != nil {
			return e.fail(ctx, t, err)
		}
	}
	if len(report.Failed) > 0 {
		return e.fail(ctx, t, coordinator.FailedError(report.Failed))
	}

	cur, err := e.repo.GetTask(ctx, t.ID)
	if err != nil {
		return OutcomeParked, err
	}
	dod := coordinator.CheckDoD(*cur, cur.WorkUnits, cfg.DefinitionOfDone)
	if !dod.Passed {
		logger.Warningf("Definition of done not met: %s", strings.Join(dod.Unmet, ", "))
		return OutcomeParked, nil
	}

	summary := model.Artifact{Kind: model.ArtifactKindSummary, Ref: "summary:" + coordinator.Summary(cur.WorkUnits)}
	if _, err := storage.AttachArtifacts(ctx, e.repo, t.ID, model.PhaseInProgress, summary); err != nil {
		return OutcomeParked, err
	}

	_, err = e.machine.RequestTransition(ctx, statemachine.TransitionRequest{
		TaskID:   t.ID,
		To:       model.PhasePullRequest,
		Trigger:  model.TriggerDevelopmentComplete,
		Actor:    model.ActorEngine,
		Reason:   fmt.Sprintf("%d work units done, definition of done validated", len(cur.WorkUnits)),
		Evidence: statemachine.Evidence{DoDValidated: true},
	})
	if err != nil {
		return OutcomeParked, err
	}

	return OutcomeProgressed, nil
}

func (e *Engine) stepPullRequest(ctx context.Context, t model.Task) (Outcome, error) {
	ref := fmt.Sprintf("pull-request://%s/%d", t.ID, t.Attempt(model.PhasePullRequest))
	if _, err := storage.AttachArtifacts(ctx, e.repo, t.ID, model.PhasePullRequest, model.Artifact{Kind: model.ArtifactKindPullRequest, Ref: ref}); err != nil {
		return OutcomeParked, err
	}

	_, err := e.machine.RequestTransition(ctx, statemachine.TransitionRequest{
		TaskID:  t.ID,
		To:      model.PhaseTesting,
		Trigger: model.TriggerPullRequestRecorded,
		Actor:   model.ActorEngine,
		Reason:  "pull request recorded " + ref,
	})
	if err != nil {
		return OutcomeParked, err
	}

	return OutcomeProgressed, nil
}

func (e *Engine) stepTesting(ctx context.Context, t model.Task) (Outcome, error) {
	if outcome, resolved, err := e.resolveRecorded(ctx, t, model.PhaseTesting); resolved || err != nil {
		return outcome, err
	}

	cfg, err := e.resolver.ProjectConfig(ctx, t.ProjectID)
	if err != nil {
		return e.fail(ctx, t, fmt.Errorf("invalid project configuration: %w", err))
	}
	orders := dispatch.ComputeWorkOrders(t, *cfg)

	if modeOf(t).Testing == model.ModeManual {
		if len(orders) != 1 {
			return e.fail(ctx, t, fmt.Errorf("manual testing requires one environment order, got %d", len(orders)))
		}
		res, err := e.dispatch(ctx, orders[0])
		if err != nil {
			return e.fail(ctx, t, err)
		}
		if res.Status != model.AgentResultStatusDone || len(res.URLs) == 0 {
			return e.fail(ctx, t, fmt.Errorf("test environment not published: %s", res.Detail))
		}

		var as []model.Artifact
		for _, u := range res.URLs {
			as = append(as, model.Artifact{Kind: model.ArtifactKindTestEnvironment, Ref: u})
		}
		if _, err := storage.AttachArtifacts(ctx, e.repo, t.ID, model.PhaseTesting, as...); err != nil {
			return OutcomeParked, err
		}

		e.logger.WithCtxValues(ctx).Infof("Test environment published at %s, waiting for manual verdict", strings.Join(res.URLs, ", "))
		return OutcomeParked, nil
	}

	// Suites run in parallel and their verdicts are combined.
	results := make([]model.AgentResult, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	for i, o := range orders {
		g.Go(func() error {
			res, err := e.dispatch(gctx, o)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return e.fail(ctx, t, err)
	}

	var (
		verdicts []model.Verdict
		reports  []model.Artifact
	)
	for i, res := range results {
		verdicts = append(verdicts, resultVerdict(model.PhaseTesting, orders[i].AgentKind, res))
		if res.ArtifactRef != "" {
			reports = append(reports, model.Artifact{Kind: model.ArtifactKindTestReport, Ref: res.ArtifactRef})
		}
	}
	if _, err := storage.AttachArtifacts(ctx, e.repo, t.ID, model.PhaseTesting, reports...); err != nil {
		return OutcomeParked, err
	}

	if _, err := e.aggregator.RecordVerdict(ctx, t.ID, verdict.Combine(model.PhaseTesting, verdicts), model.ActorEngine); err != nil {
		return OutcomeParked, err
	}

	return OutcomeProgressed, nil
}

func (e *Engine) stepCodeReview(ctx context.Context, t model.Task) (Outcome, error) {
	if modeOf(t).Review == model.ModeManual {
		return OutcomeParked, nil
	}

	attempt := t.Attempt(model.PhaseCodeReview)
	review, err := e.aggregator.Verdict(ctx, t.ID, model.PhaseCodeReview, attempt)
	switch {
	case err == nil:
		if review.Outcome != model.OutcomePass {
			if _, err := e.aggregator.Resolve(ctx, t.ID, *review); err != nil {
				return OutcomeParked, err
			}
			return OutcomeProgressed, nil
		}

	case errors.Is(err, model.ErrNotFound):
		orders := dispatch.ComputeWorkOrders(t, model.ProjectConfig{})
		if len(orders) != 1 {
			return e.fail(ctx, t, fmt.Errorf("automated review requires one review order, got %d", len(orders)))
		}
		res, err := e.dispatch(ctx, orders[0])
		if err != nil {
			return e.fail(ctx, t, err)
		}
		if _, err := storage.AttachArtifacts(ctx, e.repo, t.ID, model.PhaseCodeReview, model.Artifact{Kind: model.ArtifactKindReviewReport, Ref: res.ArtifactRef}); err != nil {
			return OutcomeParked, err
		}

		v := resultVerdict(model.PhaseCodeReview, model.AgentKindReviewer, res)
		if _, err := e.aggregator.RecordVerdict(ctx, t.ID, v, model.AgentActor(model.AgentKindReviewer)); err != nil {
			return OutcomeParked, err
		}
		if v.Outcome != model.OutcomePass {
			return OutcomeProgressed, nil
		}

	default:
		return OutcomeParked, err
	}

	// Review passed, merge it.
	cur, err := e.repo.GetTask(ctx, t.ID)
	if err != nil {
		return OutcomeParked, err
	}
	res, err := e.dispatch(ctx, dispatch.MergeOrder(*cur))
	if err != nil {
		return e.fail(ctx, t, err)
	}
	if res.Status != model.AgentResultStatusDone {
		return e.fail(ctx, t, fmt.Errorf("merge failed: %s", res.Detail))
	}
	if _, err := storage.AttachArtifacts(ctx, e.repo, t.ID, model.PhaseCodeReview, model.Artifact{Kind: model.ArtifactKindMerge, Ref: res.ArtifactRef}); err != nil {
		return OutcomeParked, err
	}
	if _, err := e.aggregator.RecordMerge(ctx, t.ID, res.Merge, res.ArtifactRef, model.AgentActor(model.AgentKindMerger)); err != nil {
		return OutcomeParked, err
	}

	return OutcomeProgressed, nil
}

// resolveRecorded applies a verdict recorded for the current attempt that didn't move the
// task, this happens when the engine stopped between both.
func (e *Engine) resolveRecorded(ctx context.Context, t model.Task, phase model.Phase) (Outcome, bool, error) {
	v, err := e.aggregator.Verdict(ctx, t.ID, phase, t.Attempt(phase))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return OutcomeParked, false, nil
		}
		return OutcomeParked, false, err
	}

	if _, err := e.aggregator.Resolve(ctx, t.ID, *v); err != nil {
		return OutcomeParked, true, err
	}
	return OutcomeProgressed, true, nil
}

// resultVerdict returns the verdict reported by an agent, agents that failed or didn't
// report one block the phase.
func resultVerdict(phase model.Phase, kind model.AgentKind, res model.AgentResult) model.Verdict {
	if res.Status != model.AgentResultStatusDone || res.Verdict == nil {
		detail := res.Detail
		if detail == "" {
			detail = "no verdict reported"
		}
		return model.Verdict{Phase: phase, Outcome: model.OutcomeBlocked, Detail: fmt.Sprintf("%s: %s", kind, detail), ReportRef: res.ArtifactRef}
	}

	v := *res.Verdict
	v.Phase = phase
	if v.ReportRef == "" {
		v.ReportRef = res.ArtifactRef
	}
	return v
}

func (e *Engine) dispatch(ctx context.Context, order model.WorkOrder) (model.AgentResult, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.dispatch", trace.WithAttributes(
		attribute.String("work_order.id", order.ID),
		attribute.String("work_order.agent_kind", string(order.AgentKind)),
		attribute.Int("work_order.attempt", order.Attempt),
	))
	defer span.End()

	res, err := e.dispatcher.Dispatch(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.String("work_order.status", string(res.Status)))

	return res, nil
}

// fail blocks the task with the cause as reason after cancelling its outstanding orders.
func (e *Engine) fail(ctx context.Context, t model.Task, cause error) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeParked, ctx.Err()
	}

	logger := e.logger.WithCtxValues(ctx)
	logger.Warningf("Blocking task: %s", cause)

	if err := e.dispatcher.Cancel(ctx, t.ID, t.Phase); err != nil {
		logger.Errorf("Could not cancel outstanding orders: %s", err)
	}

	_, err := e.machine.RequestTransition(ctx, statemachine.TransitionRequest{
		TaskID:  t.ID,
		To:      model.PhaseBlocked,
		Trigger: model.TriggerBlock,
		Actor:   model.ActorEngine,
		Reason:  cause.Error(),
	})
	if err != nil {
		return OutcomeParked, fmt.Errorf("could not block task after %q: %w", cause, err)
	}

	return OutcomeProgressed, nil
}

func modeOf(t model.Task) model.WorkflowMode {
	if t.Mode == nil {
		return model.DefaultWorkflowMode()
	}
	return *t.Mode
}
