package unblock

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

// ServiceConfig is the configuration for the unblock service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Unblock"})

	return nil
}

// Service returns a blocked task to the phase it was blocked from.
type Service struct {
	machine  Machine
	notifier Notifier
	logger   log.Logger
}

// NewService creates a new unblock service.
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

// Request represents the unblock request parameters.
type Request struct {
	TaskID   string
	Operator string
	Reason   string
}

// Run clears the block of a task.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	if req.Reason == "" {
		return nil, fmt.Errorf("clear block reason is required: %w", model.ErrNotValid)
	}

	t, err := s.machine.Fire(ctx, statemachine.FireRequest{
		TaskID:  req.TaskID,
		Trigger: model.TriggerClearBlock,
		Actor:   model.OperatorActor(req.Operator),
		Reason:  req.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("could not clear block: %w", err)
	}

	s.notifier.Notify(t.ID)
	s.logger.Infof("Cleared block of task %s, back to %s", t.ID, t.Phase)

	return t, nil
}
