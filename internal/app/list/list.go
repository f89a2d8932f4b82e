package list

import (
	"context"
	"fmt"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// ServiceConfig is the configuration for the list service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.List"})

	return nil
}

// Service lists tasks with optional filtering.
type Service struct {
	repo   storage.TaskRepository
	logger log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// ProjectID is an optional filter to only show the tasks of a project.
	ProjectID string
	// Phases is an optional filter to only show tasks in these phases.
	Phases []model.Phase
}

// Run lists all tasks, optionally filtered by project and phase.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Task, error) {
	for _, p := range req.Phases {
		if !p.Valid() {
			return nil, fmt.Errorf("phase %q is invalid: %w", p, model.ErrNotValid)
		}
	}

	s.logger.Debugf("Listing tasks with filter: project=%q phases=%v", req.ProjectID, req.Phases)

	tasks, err := s.repo.ListTasks(ctx, storage.ListTasksOpts{ProjectID: req.ProjectID, Phases: req.Phases})
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}

	s.logger.Debugf("Found %d tasks", len(tasks))
	return tasks, nil
}
