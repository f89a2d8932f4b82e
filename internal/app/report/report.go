package report

import (
	"context"
	"fmt"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// VerdictRecorder records phase verdicts.
type VerdictRecorder interface {
	RecordVerdict(ctx context.Context, taskID string, v model.Verdict, reporter model.Actor) (*model.Task, error)
}

// Notifier is told about the tasks that need the engine's attention.
type Notifier interface {
	Notify(taskID string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// ServiceConfig is the configuration for the report service.
type ServiceConfig struct {
	Recorder   VerdictRecorder
	Repository storage.TaskRepository
	Notifier   Notifier
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Recorder == nil {
		return fmt.Errorf("verdict recorder is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Notifier == nil {
		c.Notifier = noopNotifier{}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Report"})
	return nil
}

// Service records the verdicts of manual testers and reviewers.
type Service struct {
	recorder VerdictRecorder
	repo     storage.TaskRepository
	notifier Notifier
	logger   log.Logger
}

// NewService creates a new report service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		recorder: cfg.Recorder,
		repo:     cfg.Repository,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the report request parameters.
type Request struct {
	TaskID    string
	Operator  string
	Phase     model.Phase
	Outcome   model.Outcome
	Detail    string
	ReportRef string
}

// Run records the verdict of the task's current testing or review attempt.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	t, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	if t.Mode != nil {
		setting := t.Mode.Testing
		if req.Phase == model.PhaseCodeReview {
			setting = t.Mode.Review
		}
		if setting == model.ModeAutomated {
			return nil, fmt.Errorf("%s of task %s is automated, its verdicts come from agents: %w", req.Phase, t.ID, model.ErrNotValid)
		}
	}

	v := model.Verdict{
		Phase:     req.Phase,
		Outcome:   req.Outcome,
		Detail:    req.Detail,
		ReportRef: req.ReportRef,
	}
	t, err = s.recorder.RecordVerdict(ctx, req.TaskID, v, model.OperatorActor(req.Operator))
	if err != nil {
		return nil, fmt.Errorf("could not record verdict: %w", err)
	}

	s.notifier.Notify(t.ID)
	s.logger.WithValues(log.Kv{"task-id": t.ID}).Infof("Recorded %s verdict %s, task is %s", req.Phase, req.Outcome, t.Phase)

	return t, nil
}
