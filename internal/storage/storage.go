package storage

import (
	"context"

	"github.com/slok/taskflow/internal/model"
)

// TaskRepository is the interface for task persistence.
//
// Updates use optimistic concurrency: the stored version must match the
// task's version or model.ErrConflict is returned. History and artifacts are
// append-only, an update that would rewrite them returns model.ErrNotValid.
type TaskRepository interface {
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, opts ListTasksOpts) ([]model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) error
}

// ListTasksOpts are the filters for listing tasks.
type ListTasksOpts struct {
	ProjectID string
	// Phases filters by phase, empty means all.
	Phases []model.Phase
}

// VerdictRepository stores one verdict per (task, phase, attempt).
type VerdictRepository interface {
	// CreateVerdict returns model.ErrAlreadyExists if the attempt already has a verdict.
	CreateVerdict(ctx context.Context, taskID string, v model.Verdict) error
	ListVerdicts(ctx context.Context, taskID string) ([]model.Verdict, error)
}

// DispatchRepository is the work order ledger used to deduplicate dispatches.
type DispatchRepository interface {
	// CreateDispatch returns model.ErrAlreadyExists if the work order was already dispatched.
	CreateDispatch(ctx context.Context, r model.DispatchRecord) error
	GetDispatch(ctx context.Context, workOrderID string) (*model.DispatchRecord, error)
	UpdateDispatch(ctx context.Context, r model.DispatchRecord) error
	ListDispatches(ctx context.Context, taskID string) ([]model.DispatchRecord, error)
}

// Repository is the full engine persistence.
type Repository interface {
	TaskRepository
	VerdictRepository
	DispatchRepository
}

// ProjectConfigRepository loads project configuration.
type ProjectConfigRepository interface {
	GetProjectConfig(ctx context.Context, projectID string) (*model.ProjectConfig, error)
}

// PartitionRepository loads the work unit partition referenced by a design artifact.
type PartitionRepository interface {
	GetPartition(ctx context.Context, ref string) ([]model.WorkUnit, error)
}
