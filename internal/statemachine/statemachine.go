package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/slok/taskflow/internal/events"
	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/metrics"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// Evidence is the proof a guarded transition needs.
type Evidence struct {
	// DoDValidated is set by the coordinator once the Definition of Done checklist passed.
	DoDValidated bool
	Verdict      *model.Verdict
	Merge        model.MergeStatus
}

// TransitionRequest asks to move a task to a phase.
type TransitionRequest struct {
	TaskID   string
	To       model.Phase
	Trigger  model.Trigger
	Actor    model.Actor
	Reason   string
	Evidence Evidence
	// Mode is the resolved workflow mode, required when confirming an analysis.
	Mode *model.WorkflowMode
}

// FireRequest is a transition request whose target is resolved from the table.
type FireRequest struct {
	TaskID   string
	Trigger  model.Trigger
	Actor    model.Actor
	Reason   string
	Evidence Evidence
	Mode     *model.WorkflowMode
}

// MachineConfig is the configuration of the state machine.
type MachineConfig struct {
	Repository storage.TaskRepository
	Publisher  events.Publisher
	Metrics    metrics.Recorder
	Logger     log.Logger
	// Now is the clock used for history timestamps.
	Now func() time.Time
}

func (c *MachineConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Publisher == nil {
		c.Publisher = events.Noop
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "statemachine.Machine"})
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

// Machine is the only component that writes the phase of a task. Transitions
// of the same task are totally ordered.
type Machine struct {
	repo      storage.TaskRepository
	publisher events.Publisher
	metrics   metrics.Recorder
	logger    log.Logger
	now       func() time.Time
	locks     *keyedMutex
}

// NewMachine returns a new state machine.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Machine{
		repo:      cfg.Repository,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
		locks:     newKeyedMutex(),
	}, nil
}

// RequestTransition moves the task to the requested phase if the edge exists and its
// guard holds. A rejected request returns a *model.TransitionRejectedError and leaves
// the task untouched.
func (m *Machine) RequestTransition(ctx context.Context, req TransitionRequest) (*model.Task, error) {
	unlock := m.locks.lock(req.TaskID)
	defer unlock()

	var event model.TransitionEvent
	task, err := storage.MutateTask(ctx, m.repo, req.TaskID, func(t *model.Task) error {
		if err := m.apply(t, req); err != nil {
			return err
		}
		h := t.History[len(t.History)-1]
		event = model.TransitionEvent{
			TaskID:    t.ID,
			ProjectID: t.ProjectID,
			From:      h.From,
			To:        h.To,
			Trigger:   h.Trigger,
			Actor:     h.Actor,
			Reason:    h.Reason,
			Mode:      t.Mode,
			Timestamp: h.Timestamp,
		}
		return nil
	})
	if err != nil {
		var rejected *model.TransitionRejectedError
		if errors.As(err, &rejected) {
			m.metrics.TransitionRejected(ctx, rejected.From, rejected.To, rejected.Trigger)
			m.logger.WithCtxValues(ctx).WithValues(log.Kv{"task-id": req.TaskID}).Warningf("Transition rejected: %s", rejected)
		}
		return nil, err
	}

	m.metrics.TransitionAccepted(ctx, event.From, event.To, event.Trigger)
	m.logger.WithCtxValues(ctx).WithValues(log.Kv{"task-id": task.ID, "actor": event.Actor}).
		Infof("Task moved %s -> %s (%s)", event.From, event.To, event.Trigger)

	if err := m.publisher.PublishTransition(ctx, event); err != nil {
		m.logger.WithValues(log.Kv{"task-id": task.ID}).Errorf("Could not publish transition event: %s", err)
	}

	return task, nil
}

// Fire resolves the destination of the trigger for the task's current phase and requests
// the transition.
func (m *Machine) Fire(ctx context.Context, req FireRequest) (*model.Task, error) {
	t, err := m.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	to, ok := target(*t, req.Trigger)
	if !ok {
		m.metrics.TransitionRejected(ctx, t.Phase, "", req.Trigger)
		return nil, &model.TransitionRejectedError{
			From:    t.Phase,
			Trigger: req.Trigger,
			Cause:   fmt.Sprintf("no transition from %s on %s", t.Phase, req.Trigger),
		}
	}

	return m.RequestTransition(ctx, TransitionRequest{
		TaskID:   req.TaskID,
		To:       to,
		Trigger:  req.Trigger,
		Actor:    req.Actor,
		Reason:   req.Reason,
		Evidence: req.Evidence,
		Mode:     req.Mode,
	})
}

// ResetMode replaces the workflow mode of a blocked task, the only way a resolved mode changes.
func (m *Machine) ResetMode(ctx context.Context, taskID string, mode model.WorkflowMode, actor model.Actor) (*model.Task, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if !actor.IsOperator() {
		return nil, fmt.Errorf("actor %q can't reset the workflow mode: %w", actor, model.ErrModeImmutable)
	}

	unlock := m.locks.lock(taskID)
	defer unlock()

	task, err := storage.MutateTask(ctx, m.repo, taskID, func(t *model.Task) error {
		if t.Phase != model.PhaseBlocked {
			return fmt.Errorf("mode of task in %s can't be reset, block it first: %w", t.Phase, model.ErrModeImmutable)
		}
		t.Mode = &mode
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithValues(log.Kv{"task-id": taskID, "actor": actor}).Infof("Workflow mode reset to %s", mode)
	return task, nil
}

func (m *Machine) apply(t *model.Task, req TransitionRequest) error {
	reject := func(cause string) error {
		return &model.TransitionRejectedError{From: t.Phase, To: req.To, Trigger: req.Trigger, Cause: cause}
	}

	edge, ok := findEdge(t.Phase, req.To, req.Trigger)
	if !ok {
		return reject("no such edge")
	}
	if cause := edge.guard(*t, req); cause != "" {
		return reject(cause)
	}

	if edge.Trigger == model.TriggerConfirmReady {
		switch {
		case t.Mode == nil:
			mode := *req.Mode
			if err := mode.Validate(); err != nil {
				return err
			}
			t.Mode = &mode
		case req.Mode != nil && *req.Mode != *t.Mode:
			return fmt.Errorf("task %s already has mode %s: %w", t.ID, t.Mode, model.ErrModeImmutable)
		}
	}

	switch {
	case edge.To == model.PhaseBlocked:
		t.BlockedFrom = edge.From
	case edge.From == model.PhaseBlocked:
		t.BlockedFrom = ""
	}

	// Work units only live while the task is in progress.
	if edge.From == model.PhaseInProgress && edge.To != model.PhaseBlocked {
		t.WorkUnits = nil
	}

	t.Phase = edge.To
	t.History = append(t.History, model.HistoryEntry{
		From:      edge.From,
		To:        edge.To,
		Trigger:   edge.Trigger,
		Actor:     req.Actor,
		Reason:    req.Reason,
		Timestamp: m.now(),
	})

	return nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
