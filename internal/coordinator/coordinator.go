package coordinator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/slok/taskflow/internal/dispatch"
	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/metrics"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
	storageio "github.com/slok/taskflow/internal/storage/io"
)

// MaxUnitAttempts is how many times a work unit is dispatched before it's reported as failed
// for good, the first attempt plus one retry.
const MaxUnitAttempts = 2

// Dispatcher dispatches work orders.
type Dispatcher interface {
	Dispatch(ctx context.Context, order model.WorkOrder) (model.AgentResult, error)
}

// Repository is the storage the coordinator needs.
type Repository interface {
	storage.TaskRepository
	storage.DispatchRepository
}

// CoordinatorConfig is the configuration of the coordinator.
type CoordinatorConfig struct {
	Dispatcher Dispatcher
	Repository Repository
	Partitions storage.PartitionRepository
	// MaxParallel limits the work units running at the same time, 0 means no limit.
	MaxParallel int
	Metrics     metrics.Recorder
	Logger      log.Logger
}

func (c *CoordinatorConfig) defaults() error {
	if c.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("max parallel can't be negative")
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "coordinator.Coordinator"})
	return nil
}

// Report is the outcome of running work units.
type Report struct {
	Units  []model.WorkUnit
	Failed []model.WorkUnit
}

// AllDone returns true when every unit finished successfully.
func (r Report) AllDone() bool {
	if len(r.Failed) > 0 || len(r.Units) == 0 {
		return false
	}
	for _, u := range r.Units {
		if u.Status != model.WorkUnitStatusDone {
			return false
		}
	}
	return true
}

// Coordinator runs the work units of a task in progress. It is the only component that
// mutates work units.
type Coordinator struct {
	dispatcher Dispatcher
	repo       Repository
	partitions storage.PartitionRepository
	sem        *semaphore.Weighted
	metrics    metrics.Recorder
	logger     log.Logger
}

// NewCoordinator returns a new coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Coordinator{
		dispatcher: cfg.Dispatcher,
		repo:       cfg.Repository,
		partitions: cfg.Partitions,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	if cfg.MaxParallel > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return c, nil
}

// Plan creates the work units of a task from the partition of its design artifact. A task
// that already has units keeps them, units interrupted or failed before the task was blocked
// are set as pending again.
func (c *Coordinator) Plan(ctx context.Context, t model.Task) ([]model.WorkUnit, error) {
	if len(t.WorkUnits) > 0 && !needsReset(t.WorkUnits) {
		return t.WorkUnits, nil
	}

	var partition []model.WorkUnit
	if len(t.WorkUnits) == 0 {
		p, err := c.partition(ctx, t)
		if err != nil {
			return nil, err
		}
		partition = p
	}

	updated, err := storage.MutateTask(ctx, c.repo, t.ID, func(t *model.Task) error {
		if t.Phase != model.PhaseInProgress {
			return fmt.Errorf("task is %s, work units are only planned in progress: %w", t.Phase, model.ErrNotValid)
		}
		if len(t.WorkUnits) == 0 {
			t.WorkUnits = partition
			return nil
		}
		for i, u := range t.WorkUnits {
			if u.Status == model.WorkUnitStatusRunning || u.Status == model.WorkUnitStatusFailed {
				t.WorkUnits[i].Status = model.WorkUnitStatusPending
				t.WorkUnits[i].Attempts = 0
				t.WorkUnits[i].Error = ""
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not plan work units: %w", err)
	}

	c.logger.WithValues(log.Kv{"task-id": t.ID}).Infof("Planned %d work units", len(updated.WorkUnits))
	return updated.WorkUnits, nil
}

func needsReset(units []model.WorkUnit) bool {
	for _, u := range units {
		if u.Status == model.WorkUnitStatusRunning || u.Status == model.WorkUnitStatusFailed {
			return true
		}
	}
	return false
}

// partition returns the partition of the task design, a partition file when the design
// artifact references one, otherwise the units returned by the design agent.
func (c *Coordinator) partition(ctx context.Context, t model.Task) ([]model.WorkUnit, error) {
	design, ok := t.Artifact(model.PhaseAnalysis, model.ArtifactKindDesign)
	if !ok {
		return nil, fmt.Errorf("task has no design artifact: %w", model.ErrNotValid)
	}

	if strings.HasPrefix(design.Ref, storageio.PartitionRefPrefix) {
		if c.partitions == nil {
			return nil, fmt.Errorf("partition file %s can't be read without partition repository: %w", design.Ref, model.ErrNotValid)
		}
		units, err := c.partitions.GetPartition(ctx, design.Ref)
		if err != nil {
			return nil, fmt.Errorf("could not load partition: %w", err)
		}
		return units, nil
	}

	recs, err := c.repo.ListDispatches(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("could not list dispatches: %w", err)
	}
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		if r.Phase != model.PhaseAnalysis || r.AgentKind != model.AgentKindDesign || r.Result == nil {
			continue
		}
		if r.Result.ArtifactRef == design.Ref && len(r.Result.WorkUnits) > 0 {
			units := make([]model.WorkUnit, 0, len(r.Result.WorkUnits))
			for _, u := range r.Result.WorkUnits {
				u.Status = model.WorkUnitStatusPending
				if err := u.Validate(); err != nil {
					return nil, fmt.Errorf("invalid partition: %w", err)
				}
				units = append(units, u)
			}
			return units, nil
		}
	}

	return nil, fmt.Errorf("design %s has no work unit partition: %w", design.Ref, model.ErrNotValid)
}

// Run dispatches the pending work units of the task. Units with different bounded context
// keys run concurrently, units sharing a key run one after the other. Failed units are
// reported, not retried. Dispatch errors stop all the units and are returned.
func (c *Coordinator) Run(ctx context.Context, taskID string) (Report, error) {
	t, err := c.repo.GetTask(ctx, taskID)
	if err != nil {
		return Report{}, err
	}
	if t.Phase != model.PhaseInProgress {
		return Report{}, fmt.Errorf("task is %s, work units only run in progress: %w", t.Phase, model.ErrNotValid)
	}

	// Group pending units by key keeping the partition order.
	var keys []string
	groups := map[string][]model.WorkUnit{}
	for _, u := range t.WorkUnits {
		if u.Status == model.WorkUnitStatusDone || u.Status == model.WorkUnitStatusFailed {
			continue
		}
		if _, ok := groups[u.BoundedContextKey]; !ok {
			keys = append(keys, u.BoundedContextKey)
		}
		groups[u.BoundedContextKey] = append(groups[u.BoundedContextKey], u)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		units := groups[key]
		g.Go(func() error {
			for _, u := range units {
				if err := c.runUnit(gctx, *t, u); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	return c.report(ctx, taskID)
}

// Retry sets the failed units that have retry budget as pending and runs them again.
func (c *Coordinator) Retry(ctx context.Context, taskID string) (Report, error) {
	var retried []string
	_, err := storage.MutateTask(ctx, c.repo, taskID, func(t *model.Task) error {
		retried = retried[:0]
		for i, u := range t.WorkUnits {
			if u.Status == model.WorkUnitStatusFailed && u.Attempts < MaxUnitAttempts {
				t.WorkUnits[i].Status = model.WorkUnitStatusPending
				retried = append(retried, u.ID)
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("could not reset failed units: %w", err)
	}

	if len(retried) > 0 {
		c.logger.WithValues(log.Kv{"task-id": taskID}).Infof("Retrying work units: %s", strings.Join(retried, ", "))
	}

	return c.Run(ctx, taskID)
}

func (c *Coordinator) runUnit(ctx context.Context, t model.Task, u model.WorkUnit) error {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.sem.Release(1)
	}

	logger := c.logger.WithValues(log.Kv{"task-id": t.ID, "work-unit": u.ID, "key": u.BoundedContextKey})

	u, err := c.updateUnit(ctx, t.ID, u.ID, func(u *model.WorkUnit) {
		u.Status = model.WorkUnitStatusRunning
		u.Attempts++
		u.Error = ""
	})
	if err != nil {
		return err
	}

	res, err := c.dispatcher.Dispatch(ctx, dispatch.DevelopmentOrder(t, u))
	if err != nil {
		return fmt.Errorf("work unit %s dispatch failed: %w", u.ID, err)
	}

	status := model.WorkUnitStatusDone
	if res.Status != model.AgentResultStatusDone {
		status = model.WorkUnitStatusFailed
	}
	_, err = c.updateUnit(ctx, t.ID, u.ID, func(u *model.WorkUnit) {
		u.Status = status
		u.ArtifactRef = res.ArtifactRef
		u.Error = res.Detail
	}, func(t *model.Task) {
		if status == model.WorkUnitStatusDone && res.ArtifactRef != "" {
			t.AddArtifact(model.PhaseInProgress, model.Artifact{Kind: model.ArtifactKindWorkUnit, Ref: res.ArtifactRef})
		}
	})
	if err != nil {
		return err
	}

	c.metrics.WorkUnitFinished(ctx, status)
	if status == model.WorkUnitStatusFailed {
		logger.Warningf("Work unit failed: %s", res.Detail)
	} else {
		logger.Infof("Work unit done")
	}

	return nil
}

func (c *Coordinator) updateUnit(ctx context.Context, taskID, unitID string, fn func(u *model.WorkUnit), extra ...func(t *model.Task)) (model.WorkUnit, error) {
	var unit model.WorkUnit
	_, err := storage.MutateTask(ctx, c.repo, taskID, func(t *model.Task) error {
		if t.Phase != model.PhaseInProgress {
			return fmt.Errorf("task left in progress while running work unit %s: %w", unitID, model.ErrNotValid)
		}
		i := t.WorkUnit(unitID)
		if i < 0 {
			return fmt.Errorf("work unit %s: %w", unitID, model.ErrNotFound)
		}
		fn(&t.WorkUnits[i])
		for _, f := range extra {
			f(t)
		}
		unit = t.WorkUnits[i]
		return nil
	})
	if err != nil {
		return model.WorkUnit{}, fmt.Errorf("could not update work unit: %w", err)
	}
	return unit, nil
}

func (c *Coordinator) report(ctx context.Context, taskID string) (Report, error) {
	t, err := c.repo.GetTask(ctx, taskID)
	if err != nil {
		return Report{}, err
	}

	r := Report{Units: t.WorkUnits}
	for _, u := range t.WorkUnits {
		if u.Status == model.WorkUnitStatusFailed {
			r.Failed = append(r.Failed, u)
		}
	}
	return r, nil
}

// FailedError returns an error wrapping model.ErrWorkUnitFailed describing the failed units.
func FailedError(failed []model.WorkUnit) error {
	ids := make([]string, 0, len(failed))
	for _, u := range failed {
		ids = append(ids, fmt.Sprintf("%s (%s)", u.ID, u.Error))
	}
	return fmt.Errorf("%s: %w", strings.Join(ids, ", "), model.ErrWorkUnitFailed)
}

// DoDResult is the outcome of a Definition of Done check.
type DoDResult struct {
	Passed bool
	Unmet  []string
}

// CheckDoD evaluates the Definition of Done checklist against the task artifacts. Every unit
// producing an artifact is always required.
func CheckDoD(t model.Task, units []model.WorkUnit, checklist []model.DoDItem) DoDResult {
	var unmet []string
	if len(units) == 0 {
		unmet = append(unmet, "task has no work units")
	}
	for _, u := range units {
		if u.Status != model.WorkUnitStatusDone || u.ArtifactRef == "" {
			unmet = append(unmet, fmt.Sprintf("work unit %s has no artifact", u.ID))
		}
	}

	for _, item := range checklist {
		phase := item.Phase
		if phase == "" {
			phase = model.PhaseInProgress
		}

		matched, contains := 0, item.Contains == ""
		for _, a := range t.Artifacts[phase] {
			if item.Kind != "" && a.Kind != item.Kind {
				continue
			}
			matched++
			if !contains && strings.Contains(a.Ref, item.Contains) {
				contains = true
			}
		}

		switch {
		case matched < item.MinArtifacts:
			unmet = append(unmet, fmt.Sprintf("%s: %d of %d artifacts", item.Name, matched, item.MinArtifacts))
		case !contains:
			unmet = append(unmet, fmt.Sprintf("%s: no artifact contains %q", item.Name, item.Contains))
		}
	}

	return DoDResult{Passed: len(unmet) == 0, Unmet: unmet}
}

// Summary returns the summary of the work units retained once the task leaves in progress.
func Summary(units []model.WorkUnit) string {
	var sb strings.Builder
	for i, u := range units {
		if i > 0 {
			sb.WriteString(";")
		}
		fmt.Fprintf(&sb, "%s[%s]=%s", u.ID, u.BoundedContextKey, u.Status)
		if u.ArtifactRef != "" {
			fmt.Fprintf(&sb, "(%s)", u.ArtifactRef)
		}
	}
	return sb.String()
}
