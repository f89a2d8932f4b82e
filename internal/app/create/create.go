package create

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// Notifier is told about the tasks that need the engine's attention.
type Notifier interface {
	Notify(taskID string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// ServiceConfig is the configuration for the create service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Notifier   Notifier
	Logger     log.Logger
	Now        func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Notifier == nil {
		c.Notifier = noopNotifier{}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Create"})
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

// Service handles task creation.
type Service struct {
	repo     storage.TaskRepository
	notifier Notifier
	logger   log.Logger
	now      func() time.Time
}

// NewService creates a new create service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:     cfg.Repository,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Request represents the create request parameters.
type Request struct {
	ProjectID string
	Title     string
	Kind      model.TaskKind
}

// Run creates a new task on the backlog.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	now := s.now()
	t := model.Task{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		ProjectID: req.ProjectID,
		Title:     req.Title,
		Kind:      req.Kind,
		Phase:     model.PhaseBacklog,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	if err := s.repo.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("could not save task: %w", err)
	}

	s.logger.Infof("Created task: %s (%s)", t.Title, t.ID)
	s.notifier.Notify(t.ID)

	return &t, nil
}
