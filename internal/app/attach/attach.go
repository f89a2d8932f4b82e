package attach

import (
	"context"
	"fmt"

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

// ServiceConfig is the configuration for the attach service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Notifier   Notifier
	Logger     log.Logger
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Attach"})

	return nil
}

// Service attaches operator artifacts to tasks.
type Service struct {
	repo     storage.TaskRepository
	notifier Notifier
	logger   log.Logger
}

// NewService creates a new attach service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:     cfg.Repository,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}, nil
}

// Request represents the attach request parameters.
type Request struct {
	TaskID string
	// Phase defaults to the current phase of the task.
	Phase model.Phase
	Kind  model.ArtifactKind
	Ref   string
}

// Run appends an artifact to the current phase of a task.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	if req.Ref == "" {
		return nil, fmt.Errorf("artifact ref is required: %w", model.ErrNotValid)
	}
	kind := req.Kind
	if kind == "" {
		kind = model.ArtifactKindOther
	}

	phase := req.Phase
	if phase == "" {
		t, err := s.repo.GetTask(ctx, req.TaskID)
		if err != nil {
			return nil, fmt.Errorf("could not get task: %w", err)
		}
		phase = t.Phase
	}

	t, err := storage.AttachArtifacts(ctx, s.repo, req.TaskID, phase, model.Artifact{Kind: kind, Ref: req.Ref})
	if err != nil {
		return nil, fmt.Errorf("could not attach artifact: %w", err)
	}

	// The artifact may complete a definition of done the engine is waiting on.
	s.notifier.Notify(t.ID)
	s.logger.Debugf("Attached %s artifact %s to %s of task %s", kind, req.Ref, phase, t.ID)

	return t, nil
}
