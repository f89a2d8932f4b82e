package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	tasks      map[string]model.Task
	verdicts   map[string][]model.Verdict
	dispatches map[string]model.DispatchRecord
	mu         sync.RWMutex
	logger     log.Logger
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:      make(map[string]model.Task),
		verdicts:   make(map[string][]model.Verdict),
		dispatches: make(map[string]model.DispatchRecord),
		logger:     cfg.Logger,
	}, nil
}

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task with id %s: %w", t.ID, model.ErrAlreadyExists)
	}

	t.Version = 0
	r.tasks[t.ID] = t.Copy()
	r.logger.Debugf("Created task in repository: %s", t.ID)

	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	// Return a copy
	tc := t.Copy()
	return &tc, nil
}

// ListTasks returns the tasks matching the options, oldest first.
func (r *Repository) ListTasks(ctx context.Context, opts storage.ListTasksOpts) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if opts.ProjectID != "" && t.ProjectID != opts.ProjectID {
			continue
		}
		if len(opts.Phases) > 0 && !slices.Contains(opts.Phases, t.Phase) {
			continue
		}
		tasks = append(tasks, t.Copy())
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}

// UpdateTask updates an existing task.
func (r *Repository) UpdateTask(ctx context.Context, t model.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tasks[t.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrNotFound)
	}
	if stored.Version != t.Version {
		return fmt.Errorf("task %s version %d, stored %d: %w", t.ID, t.Version, stored.Version, model.ErrConflict)
	}
	if err := storage.CheckAppendOnly(stored, t); err != nil {
		return err
	}

	t.Version++
	t.UpdatedAt = time.Now().UTC()
	r.tasks[t.ID] = t.Copy()
	r.logger.Debugf("Updated task in repository: %s", t.ID)

	return nil
}

// CreateVerdict stores a verdict, one per task phase attempt.
func (r *Repository) CreateVerdict(ctx context.Context, taskID string, v model.Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.verdicts[taskID] {
		if existing.Phase == v.Phase && existing.Attempt == v.Attempt {
			return fmt.Errorf("verdict for task %s %s attempt %d: %w", taskID, v.Phase, v.Attempt, model.ErrAlreadyExists)
		}
	}

	r.verdicts[taskID] = append(r.verdicts[taskID], v)
	r.logger.Debugf("Created verdict in repository: %s %s#%d", taskID, v.Phase, v.Attempt)

	return nil
}

// ListVerdicts returns the verdicts of a task in recording order.
func (r *Repository) ListVerdicts(ctx context.Context, taskID string) ([]model.Verdict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]model.Verdict(nil), r.verdicts[taskID]...), nil
}

// CreateDispatch stores a new ledger record.
func (r *Repository) CreateDispatch(ctx context.Context, rec model.DispatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dispatches[rec.WorkOrderID]; ok {
		return fmt.Errorf("dispatch %s: %w", rec.WorkOrderID, model.ErrAlreadyExists)
	}

	r.dispatches[rec.WorkOrderID] = copyDispatch(rec)
	return nil
}

// GetDispatch retrieves a ledger record by work order ID.
func (r *Repository) GetDispatch(ctx context.Context, workOrderID string) (*model.DispatchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.dispatches[workOrderID]
	if !ok {
		return nil, fmt.Errorf("dispatch %s: %w", workOrderID, model.ErrNotFound)
	}

	rc := copyDispatch(rec)
	return &rc, nil
}

// UpdateDispatch updates an existing ledger record.
func (r *Repository) UpdateDispatch(ctx context.Context, rec model.DispatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dispatches[rec.WorkOrderID]; !ok {
		return fmt.Errorf("dispatch %s: %w", rec.WorkOrderID, model.ErrNotFound)
	}

	r.dispatches[rec.WorkOrderID] = copyDispatch(rec)
	return nil
}

// ListDispatches returns the ledger records of a task ordered by creation.
func (r *Repository) ListDispatches(ctx context.Context, taskID string) ([]model.DispatchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var recs []model.DispatchRecord
	for _, rec := range r.dispatches {
		if rec.TaskID == taskID {
			recs = append(recs, copyDispatch(rec))
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].WorkOrderID < recs[j].WorkOrderID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})

	return recs, nil
}

func copyDispatch(rec model.DispatchRecord) model.DispatchRecord {
	if rec.Result != nil {
		res := *rec.Result
		res.URLs = append([]string(nil), rec.Result.URLs...)
		res.WorkUnits = append([]model.WorkUnit(nil), rec.Result.WorkUnits...)
		rec.Result = &res
	}
	return rec
}
