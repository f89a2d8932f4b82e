package verdict

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/metrics"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/statemachine"
	"github.com/slok/taskflow/internal/storage"
)

// Machine fires lifecycle triggers.
type Machine interface {
	Fire(ctx context.Context, req statemachine.FireRequest) (*model.Task, error)
}

// Repository is the storage the aggregator needs.
type Repository interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
	storage.VerdictRepository
}

// AggregatorConfig is the configuration of the aggregator.
type AggregatorConfig struct {
	Machine    Machine
	Repository Repository
	Metrics    metrics.Recorder
	Logger     log.Logger
	Now        func() time.Time
}

func (c *AggregatorConfig) defaults() error {
	if c.Machine == nil {
		return fmt.Errorf("state machine is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "verdict.Aggregator"})
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

// Aggregator records the verdicts of testing and code review and turns them into
// lifecycle triggers. Targets are always resolved by the state machine.
type Aggregator struct {
	machine Machine
	repo    Repository
	metrics metrics.Recorder
	logger  log.Logger
	now     func() time.Time
}

// NewAggregator returns a new aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Aggregator{
		machine: cfg.Machine,
		repo:    cfg.Repository,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// RecordVerdict records the verdict of the current attempt of the task phase and applies
// it. A second verdict for the same attempt returns model.ErrDuplicateVerdict and leaves the
// task untouched.
func (a *Aggregator) RecordVerdict(ctx context.Context, taskID string, v model.Verdict, reporter model.Actor) (*model.Task, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	t, err := a.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Phase != v.Phase {
		// A resent verdict of an attempt that already moved the task.
		attempt := t.Attempt(v.Phase)
		if _, err := a.Verdict(ctx, taskID, v.Phase, attempt); err == nil {
			a.logger.WithCtxValues(ctx).WithValues(log.Kv{"task-id": taskID, "phase": v.Phase, "attempt": attempt}).
				Warningf("Duplicate %s verdict from %s ignored", v.Outcome, reporter)
			return nil, fmt.Errorf("%s attempt %d already has a verdict: %w", v.Phase, attempt, model.ErrDuplicateVerdict)
		} else if !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("task is %s, %s verdicts are not accepted: %w", t.Phase, v.Phase, model.ErrNotValid)
	}

	v.Attempt = t.Attempt(v.Phase)
	v.Reporter = reporter
	v.RecordedAt = a.now()

	logger := a.logger.WithCtxValues(ctx).WithValues(log.Kv{"task-id": taskID, "phase": v.Phase, "attempt": v.Attempt})
	if err := a.repo.CreateVerdict(ctx, taskID, v); err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			logger.Warningf("Duplicate %s verdict from %s ignored", v.Outcome, reporter)
			return nil, fmt.Errorf("%s attempt %d already has a verdict: %w", v.Phase, v.Attempt, model.ErrDuplicateVerdict)
		}
		return nil, fmt.Errorf("could not record verdict: %w", err)
	}

	a.metrics.VerdictRecorded(ctx, v.Phase, v.Outcome)
	logger.Infof("Verdict recorded: %s", v.Outcome)

	return a.Resolve(ctx, taskID, v)
}

// Resolve applies an already recorded verdict to the task.
func (a *Aggregator) Resolve(ctx context.Context, taskID string, v model.Verdict) (*model.Task, error) {
	req := statemachine.FireRequest{
		TaskID:   taskID,
		Actor:    v.Reporter,
		Reason:   verdictReason(v),
		Evidence: statemachine.Evidence{Verdict: &v},
	}

	switch {
	case v.Outcome == model.OutcomeBlocked:
		req.Trigger = model.TriggerBlock
	case v.Outcome == model.OutcomeFail:
		req.Trigger = model.TriggerVerdictFail
	case v.Phase == model.PhaseTesting:
		req.Trigger = model.TriggerVerdictPass
	default:
		// Review passes wait for the merge or for the operator.
		return a.repo.GetTask(ctx, taskID)
	}

	return a.machine.Fire(ctx, req)
}

// RecordMerge applies the result of the merge issued after an automated review passed.
func (a *Aggregator) RecordMerge(ctx context.Context, taskID string, merge model.MergeStatus, ref string, reporter model.Actor) (*model.Task, error) {
	t, err := a.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Phase != model.PhaseCodeReview {
		return nil, fmt.Errorf("task is %s, merges are only accepted on code review: %w", t.Phase, model.ErrNotValid)
	}

	switch merge {
	case model.MergeStatusMerged:
		review, err := a.Verdict(ctx, taskID, model.PhaseCodeReview, t.Attempt(model.PhaseCodeReview))
		if err != nil {
			return nil, fmt.Errorf("merge without review verdict: %w", err)
		}
		return a.machine.Fire(ctx, statemachine.FireRequest{
			TaskID:   taskID,
			Trigger:  model.TriggerMergeSucceeded,
			Actor:    reporter,
			Reason:   strings.TrimSpace("merge succeeded " + ref),
			Evidence: statemachine.Evidence{Verdict: review, Merge: merge},
		})
	case model.MergeStatusConflict:
		return a.machine.Fire(ctx, statemachine.FireRequest{
			TaskID:   taskID,
			Trigger:  model.TriggerVerdictFail,
			Actor:    reporter,
			Reason:   strings.TrimSpace("merge conflict " + ref),
			Evidence: statemachine.Evidence{Merge: merge},
		})
	default:
		return nil, fmt.Errorf("merge status %q is invalid: %w", merge, model.ErrNotValid)
	}
}

// Verdict returns the verdict of a phase attempt.
func (a *Aggregator) Verdict(ctx context.Context, taskID string, phase model.Phase, attempt int) (*model.Verdict, error) {
	vs, err := a.repo.ListVerdicts(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not list verdicts: %w", err)
	}
	for _, v := range vs {
		if v.Phase == phase && v.Attempt == attempt {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("%s attempt %d verdict: %w", phase, attempt, model.ErrNotFound)
}

// Combine aggregates the verdicts of parallel suites of the same phase. Blocked wins over
// fail and fail wins over pass.
func Combine(phase model.Phase, verdicts []model.Verdict) model.Verdict {
	if len(verdicts) == 0 {
		return model.Verdict{Phase: phase, Outcome: model.OutcomeBlocked, Detail: "no verdicts reported"}
	}

	res := model.Verdict{Phase: phase, Outcome: model.OutcomePass}
	var details, refs []string
	for _, v := range verdicts {
		switch {
		case v.Outcome == model.OutcomeBlocked:
			res.Outcome = model.OutcomeBlocked
		case v.Outcome == model.OutcomeFail && res.Outcome == model.OutcomePass:
			res.Outcome = model.OutcomeFail
		}
		if v.Outcome != model.OutcomePass && v.Detail != "" {
			details = append(details, v.Detail)
		}
		if v.ReportRef != "" {
			refs = append(refs, v.ReportRef)
		}
	}
	res.Detail = strings.Join(details, "; ")
	res.ReportRef = strings.Join(refs, ",")

	return res
}

func verdictReason(v model.Verdict) string {
	reason := fmt.Sprintf("%s verdict %s", v.Phase, v.Outcome)
	if v.Detail != "" {
		reason += ": " + v.Detail
	}
	return reason
}
