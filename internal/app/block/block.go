package block

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

// ServiceConfig is the configuration for the block service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Block"})

	return nil
}

// Service stops all the work of a task until an operator clears it.
type Service struct {
	machine  Machine
	notifier Notifier
	logger   log.Logger
}

// NewService creates a new block service.
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

// Request represents the block request parameters.
type Request struct {
	TaskID   string
	Operator string
	Reason   string
}

// Run blocks a task, the engine cancels its outstanding work orders.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	if req.Reason == "" {
		return nil, fmt.Errorf("block reason is required: %w", model.ErrNotValid)
	}

	t, err := s.machine.Fire(ctx, statemachine.FireRequest{
		TaskID:  req.TaskID,
		Trigger: model.TriggerBlock,
		Actor:   model.OperatorActor(req.Operator),
		Reason:  req.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("could not block task: %w", err)
	}

	s.notifier.Notify(t.ID)
	s.logger.Infof("Blocked task %s from %s: %s", t.ID, t.BlockedFrom, req.Reason)

	return t, nil
}
