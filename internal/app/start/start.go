package start

import (
	"context"
	"fmt"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/statemachine"
)

// Machine fires lifecycle triggers.
type Machine interface {
	Fire(ctx context.Context, req statemachine.FireRequest) (*model.Task, error)
}

// Notifier is told about the tasks that need the engine's attention.
type Notifier interface {
	Notify(taskID string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// ServiceConfig is the configuration for the start service.
type ServiceConfig struct {
	Machine  Machine
	Notifier Notifier
	Logger   log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Machine == nil {
		return fmt.Errorf("state machine is required")
	}

	if c.Notifier == nil {
		c.Notifier = noopNotifier{}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Start"})

	return nil
}

// Service moves a backlog task into analysis.
type Service struct {
	machine  Machine
	notifier Notifier
	logger   log.Logger
}

// NewService creates a new start service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		machine:  cfg.Machine,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the start request parameters.
type Request struct {
	TaskID string
	// Operator is the name of who starts the analysis.
	Operator string
}

// Run starts the analysis of a task, the engine dispatches the requirements and design agents.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	s.logger.Debugf("Starting analysis of task: %s", req.TaskID)

	t, err := s.machine.Fire(ctx, statemachine.FireRequest{
		TaskID:  req.TaskID,
		Trigger: model.TriggerStartAnalysis,
		Actor:   model.OperatorActor(req.Operator),
		Reason:  "analysis started",
	})
	if err != nil {
		return nil, fmt.Errorf("could not start analysis: %w", err)
	}

	s.notifier.Notify(t.ID)
	s.logger.Infof("Started analysis of task: %s", t.ID)

	return t, nil
}
