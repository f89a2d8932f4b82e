package markdone

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

// ServiceConfig is the configuration for the mark done service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.MarkDone"})

	return nil
}

// Service completes a task whose code review is manual.
type Service struct {
	machine  Machine
	notifier Notifier
	logger   log.Logger
}

// NewService creates a new mark done service.
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

// Request represents the mark done request parameters.
type Request struct {
	TaskID   string
	Operator string
	Reason   string
}

// Run marks a task as done after its manual review.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	reason := req.Reason
	if reason == "" {
		reason = "review approved"
	}

	t, err := s.machine.Fire(ctx, statemachine.FireRequest{
		TaskID:  req.TaskID,
		Trigger: model.TriggerMarkDone,
		Actor:   model.OperatorActor(req.Operator),
		Reason:  reason,
	})
	if err != nil {
		return nil, fmt.Errorf("could not mark task as done: %w", err)
	}

	s.notifier.Notify(t.ID)
	s.logger.Infof("Task %s done", t.ID)

	return t, nil
}
