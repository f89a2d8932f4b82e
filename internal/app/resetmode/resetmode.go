package resetmode

import (
	"context"
	"fmt"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
)

// ModeResetter replaces the workflow mode of blocked tasks.
type ModeResetter interface {
	ResetMode(ctx context.Context, taskID string, mode model.WorkflowMode, actor model.Actor) (*model.Task, error)
}

// ServiceConfig is the configuration for the reset mode service.
type ServiceConfig struct {
	Machine ModeResetter
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Machine == nil {
		return fmt.Errorf("state machine is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.ResetMode"})

	return nil
}

// Service resets the workflow mode of a blocked task.
type Service struct {
	machine ModeResetter
	logger  log.Logger
}

// NewService creates a new reset mode service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		machine: cfg.Machine,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the reset mode request parameters.
type Request struct {
	TaskID   string
	Operator string
	Testing  model.ModeSetting
	Review   model.ModeSetting
}

// Run replaces the mode of the task, it only works on blocked tasks.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	mode := model.WorkflowMode{Testing: req.Testing, Review: req.Review}
	t, err := s.machine.ResetMode(ctx, req.TaskID, mode, model.OperatorActor(req.Operator))
	if err != nil {
		return nil, fmt.Errorf("could not reset workflow mode: %w", err)
	}

	s.logger.Infof("Reset workflow mode of task %s to %s", t.ID, mode)
	return t, nil
}
