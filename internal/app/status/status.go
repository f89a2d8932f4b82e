package status

import (
	"context"
	"fmt"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// Repository is the persistence the status service reads from.
type Repository interface {
	storage.TaskRepository
	storage.VerdictRepository
}

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Repository Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Status"})

	return nil
}

// Service retrieves detailed task status.
type Service struct {
	repo   Repository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	TaskID string
}

// Status is the current state of a task.
type Status struct {
	Task model.Task
	// Mode is the resolved workflow mode, nil until the analysis is confirmed.
	Mode     *model.WorkflowMode
	History  []model.HistoryEntry
	Verdicts []model.Verdict
}

// Run retrieves the phase, mode and history of a task.
func (s *Service) Run(ctx context.Context, req Request) (*Status, error) {
	s.logger.Debugf("Getting status for task: %s", req.TaskID)

	t, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	verdicts, err := s.repo.ListVerdicts(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not list task verdicts: %w", err)
	}

	return &Status{
		Task:     *t,
		Mode:     t.Mode,
		History:  t.History,
		Verdicts: verdicts,
	}, nil
}
