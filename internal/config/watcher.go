package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/slok/taskflow/internal/conventions"
	"github.com/slok/taskflow/internal/log"
)

// Invalidator drops cached project configuration.
type Invalidator interface {
	Invalidate(projectID string)
	InvalidateAll()
}

// WatcherConfig is the configuration of the watcher.
type WatcherConfig struct {
	Dir         string
	Invalidator Invalidator
	Logger      log.Logger
}

func (c *WatcherConfig) defaults() error {
	if c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if c.Invalidator == nil {
		return fmt.Errorf("invalidator is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "config.Watcher"})
	return nil
}

// Watcher invalidates project configuration when its file changes. Already resolved
// task modes are not affected.
type Watcher struct {
	dir         string
	invalidator Invalidator
	logger      log.Logger
	watcher     *fsnotify.Watcher
}

// NewWatcher returns a new watcher on the configuration directory.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("could not create fs watcher: %w", err)
	}
	if err := w.Add(cfg.Dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("could not watch %s: %w", cfg.Dir, err)
	}

	return &Watcher{
		dir:         cfg.Dir,
		invalidator: cfg.Invalidator,
		logger:      cfg.Logger,
		watcher:     w,
	}, nil
}

// Run processes file events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	w.logger.Infof("Watching project configuration at %s", w.dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warningf("Configuration watcher error, invalidating all: %s", err)
			w.invalidator.InvalidateAll()
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, conventions.ProjectConfigExt) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	projectID := strings.TrimSuffix(name, conventions.ProjectConfigExt)
	w.invalidator.Invalidate(projectID)
	w.logger.WithValues(log.Kv{"project-id": projectID}).Debugf("Project configuration invalidated (%s)", event.Op)
}
