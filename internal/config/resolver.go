package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// ResolverConfig is the configuration of the resolver.
type ResolverConfig struct {
	Repository storage.ProjectConfigRepository
	Logger     log.Logger
}

func (c *ResolverConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "config.Resolver"})
	return nil
}

// Resolver resolves the per-project configuration, caching it until invalidated.
type Resolver struct {
	repo   storage.ProjectConfigRepository
	logger log.Logger

	mu    sync.RWMutex
	cache map[string]model.ProjectConfig
	group singleflight.Group
}

// NewResolver returns a new configuration resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Resolver{
		repo:   cfg.Repository,
		logger: cfg.Logger,
		cache:  map[string]model.ProjectConfig{},
	}, nil
}

// ResolveMode returns the workflow mode of a project. Resolution never fails a task:
// a missing or broken project configuration resolves to manual testing and review.
func (r *Resolver) ResolveMode(ctx context.Context, projectID string) (model.WorkflowMode, error) {
	if err := ctx.Err(); err != nil {
		return model.WorkflowMode{}, err
	}

	logger := r.logger.WithCtxValues(ctx).WithValues(log.Kv{"project-id": projectID})

	cfg, err := r.ProjectConfig(ctx, projectID)
	if err != nil {
		if ctx.Err() != nil {
			return model.WorkflowMode{}, ctx.Err()
		}
		logger.Errorf("Could not load project configuration, falling back to manual mode: %s", err)
		return model.DefaultWorkflowMode(), nil
	}

	mode := cfg.Mode()
	logger.Debugf("Workflow mode resolved: %s", mode)
	return mode, nil
}

// ProjectConfig returns the project configuration. A missing project returns the
// defaults and logs a configuration missing warning.
func (r *Resolver) ProjectConfig(ctx context.Context, projectID string) (*model.ProjectConfig, error) {
	r.mu.RLock()
	cfg, ok := r.cache[projectID]
	r.mu.RUnlock()
	if ok {
		return &cfg, nil
	}

	v, err, _ := r.group.Do(projectID, func() (any, error) {
		cfg, err := r.repo.GetProjectConfig(ctx, projectID)
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
			r.logger.WithValues(log.Kv{"project-id": projectID}).
				Warningf("Using manual defaults: %s", fmt.Errorf("project %s: %w", projectID, model.ErrConfigurationMissing))
			cfg = &model.ProjectConfig{ID: projectID}
		}

		r.mu.Lock()
		r.cache[projectID] = *cfg
		r.mu.Unlock()
		return *cfg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not load project %s configuration: %w", projectID, err)
	}

	c := v.(model.ProjectConfig)
	return &c, nil
}

// Invalidate drops the cached configuration of a project, future resolutions reload it.
func (r *Resolver) Invalidate(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, projectID)
}

// InvalidateAll drops all the cached configuration.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = map[string]model.ProjectConfig{}
}
