package confirm

import (
	"context"
	"fmt"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/statemachine"
	"github.com/slok/taskflow/internal/storage"
)

// Machine fires lifecycle triggers.
type Machine interface {
	Fire(ctx context.Context, req statemachine.FireRequest) (*model.Task, error)
}

// ModeResolver resolves the workflow mode of a project.
type ModeResolver interface {
	ResolveMode(ctx context.Context, projectID string) (model.WorkflowMode, error)
}

// Notifier is told about the tasks that need the engine's attention.
type Notifier interface {
	Notify(taskID string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// ServiceConfig is the configuration for the confirm service.
type ServiceConfig struct {
	Machine    Machine
	Resolver   ModeResolver
	Repository storage.TaskRepository
	Notifier   Notifier
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Machine == nil {
		return fmt.Errorf("state machine is required")
	}
	if c.Resolver == nil {
		return fmt.Errorf("mode resolver is required")
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Confirm"})
	return nil
}

// Service confirms an analysis, resolving the workflow mode the task keeps until done.
type Service struct {
	machine  Machine
	resolver ModeResolver
	repo     storage.TaskRepository
	notifier Notifier
	logger   log.Logger
}

// NewService creates a new confirm service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		machine:  cfg.Machine,
		resolver: cfg.Resolver,
		repo:     cfg.Repository,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the confirm request parameters.
type Request struct {
	TaskID   string
	Operator string
}

// Run moves an analysed task to development.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	t, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	// A task keeps the mode it already has, for example after a mode reset.
	var mode *model.WorkflowMode
	if t.Mode == nil {
		m, err := s.resolver.ResolveMode(ctx, t.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("could not resolve workflow mode: %w", err)
		}
		mode = &m
	}

	t, err = s.machine.Fire(ctx, statemachine.FireRequest{
		TaskID:  req.TaskID,
		Trigger: model.TriggerConfirmReady,
		Actor:   model.OperatorActor(req.Operator),
		Reason:  "analysis confirmed",
		Mode:    mode,
	})
	if err != nil {
		return nil, fmt.Errorf("could not confirm analysis: %w", err)
	}

	s.notifier.Notify(t.ID)
	s.logger.WithValues(log.Kv{"task-id": t.ID}).Infof("Analysis confirmed with mode %s", t.Mode)

	return t, nil
}
