package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/slok/taskflow/internal/coordinator"
	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/statemachine"
	"github.com/slok/taskflow/internal/storage"
	"github.com/slok/taskflow/internal/verdict"
)

const tracerName = "github.com/slok/taskflow/internal/orchestrator"

// Dispatcher delegates work orders to agents.
type Dispatcher interface {
	Dispatch(ctx context.Context, order model.WorkOrder) (model.AgentResult, error)
	Cancel(ctx context.Context, taskID string, phase model.Phase) error
	Outstanding(taskID string) []model.WorkOrder
}

// ConfigResolver returns the project configuration.
type ConfigResolver interface {
	ProjectConfig(ctx context.Context, projectID string) (*model.ProjectConfig, error)
}

// EngineConfig is the configuration of the engine.
type EngineConfig struct {
	Repository  storage.Repository
	Machine     *statemachine.Machine
	Dispatcher  Dispatcher
	Coordinator *coordinator.Coordinator
	Aggregator  *verdict.Aggregator
	Resolver    ConfigResolver
	// PollInterval is how often parked loops check their task and new tasks are discovered.
	PollInterval time.Duration
	Tracer       trace.Tracer
	Logger       log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Machine == nil {
		return fmt.Errorf("state machine is required")
	}
	if c.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required")
	}
	if c.Coordinator == nil {
		return fmt.Errorf("coordinator is required")
	}
	if c.Aggregator == nil {
		return fmt.Errorf("aggregator is required")
	}
	if c.Resolver == nil {
		return fmt.Errorf("config resolver is required")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "orchestrator.Engine"})
	return nil
}

// Outcome is the result of a loop step.
type Outcome int

const (
	// OutcomeProgressed means the task changed and the loop steps again.
	OutcomeProgressed Outcome = iota
	// OutcomeParked means the task waits for an operator or an agent.
	OutcomeParked
	// OutcomeFinished means the task reached a terminal phase.
	OutcomeFinished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProgressed:
		return "progressed"
	case OutcomeParked:
		return "parked"
	case OutcomeFinished:
		return "finished"
	default:
		return "unknown"
	}
}

type loop struct {
	wake chan struct{}
}

// Engine drives every task through its lifecycle with one independent loop per task.
type Engine struct {
	repo         storage.Repository
	machine      *statemachine.Machine
	dispatcher   Dispatcher
	coordinator  *coordinator.Coordinator
	aggregator   *verdict.Aggregator
	resolver     ConfigResolver
	pollInterval time.Duration
	tracer       trace.Tracer
	logger       log.Logger

	mu     sync.Mutex
	loops  map[string]*loop
	rescan chan struct{}
}

// NewEngine returns a new engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		repo:         cfg.Repository,
		machine:      cfg.Machine,
		dispatcher:   cfg.Dispatcher,
		coordinator:  cfg.Coordinator,
		aggregator:   cfg.Aggregator,
		resolver:     cfg.Resolver,
		pollInterval: cfg.PollInterval,
		tracer:       cfg.Tracer,
		logger:       cfg.Logger,
		loops:        map[string]*loop{},
		rescan:       make(chan struct{}, 1),
	}, nil
}

// Run drives all the unfinished tasks until the context is cancelled, tasks created while
// running are picked up on every poll or when notified.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Infof("Engine started")

	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if err := e.scan(ctx, &wg); err != nil && ctx.Err() == nil {
			e.logger.Errorf("Could not list tasks: %s", err)
		}

		select {
		case <-ctx.Done():
			e.logger.Infof("Engine stopping")
			return nil
		case <-ticker.C:
		case <-e.rescan:
		}
	}
}

func (e *Engine) scan(ctx context.Context, wg *sync.WaitGroup) error {
	var phases []model.Phase
	for _, p := range model.Phases() {
		if !p.Terminal() {
			phases = append(phases, p)
		}
	}

	tasks, err := e.repo.ListTasks(ctx, storage.ListTasksOpts{Phases: phases})
	if err != nil {
		return err
	}

	for _, t := range tasks {
		l, ok := e.register(t.ID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.unregister(t.ID)
			if err := e.drive(ctx, t.ID, l); err != nil && ctx.Err() == nil {
				e.logger.WithValues(log.Kv{"task-id": t.ID}).Errorf("Task loop stopped: %s", err)
			}
		}()
	}

	return nil
}

// Notify wakes the loop of a task, used after operator actions.
func (e *Engine) Notify(taskID string) {
	e.mu.Lock()
	l, ok := e.loops[taskID]
	e.mu.Unlock()

	if !ok {
		select {
		case e.rescan <- struct{}{}:
		default:
		}
		return
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Drive runs the loop of a single task until it finishes or the context is cancelled.
func (e *Engine) Drive(ctx context.Context, taskID string) error {
	l, ok := e.register(taskID)
	if !ok {
		return fmt.Errorf("task %s loop is already running: %w", taskID, model.ErrAlreadyExists)
	}
	defer e.unregister(taskID)

	return e.drive(ctx, taskID, l)
}

func (e *Engine) register(taskID string) (*loop, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.loops[taskID]; ok {
		return nil, false
	}
	l := &loop{wake: make(chan struct{}, 1)}
	e.loops[taskID] = l
	return l, true
}

func (e *Engine) unregister(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.loops, taskID)
}

func (e *Engine) drive(ctx context.Context, taskID string, l *loop) error {
	logger := e.logger.WithValues(log.Kv{"task-id": taskID})
	logger.Debugf("Task loop started")

	for {
		t, err := e.repo.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return err
			}
			logger.Errorf("Could not get task: %s", err)
			if !e.wait(ctx, l) {
				return nil
			}
			continue
		}

		outcome, err := e.supervisedStep(ctx, *t, l)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, context.Canceled):
			// The task left the phase while the step was running.
			continue
		case err != nil:
			logger.Errorf("Step on %s failed: %s", t.Phase, err)
			if !e.wait(ctx, l) {
				return nil
			}
		case outcome == OutcomeFinished:
			logger.Infof("Task loop finished")
			return nil
		case outcome == OutcomeParked:
			if e.phaseChanged(ctx, taskID, t.Phase) {
				continue
			}
			if !e.wait(ctx, l) {
				return nil
			}
		}
	}
}

// supervisedStep runs a step and stops it when the task leaves the phase the step started
// on, for example when an operator blocks it while its orders are running.
func (e *Engine) supervisedStep(ctx context.Context, t model.Task, l *loop) (Outcome, error) {
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-stepCtx.Done():
				return
			case <-ticker.C:
			case <-l.wake:
			}

			if e.phaseChanged(stepCtx, t.ID, t.Phase) {
				e.logger.WithValues(log.Kv{"task-id": t.ID}).Infof("Task left %s, stopping its work", t.Phase)
				cancel()
				if err := e.dispatcher.Cancel(context.WithoutCancel(ctx), t.ID, t.Phase); err != nil {
					e.logger.WithValues(log.Kv{"task-id": t.ID}).Errorf("Could not cancel orders: %s", err)
				}
				return
			}
		}
	}()

	return e.Step(stepCtx, t.ID)
}

func (e *Engine) phaseChanged(ctx context.Context, taskID string, phase model.Phase) bool {
	t, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return false
	}
	return t.Phase != phase
}

func (e *Engine) wait(ctx context.Context, l *loop) bool {
	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-l.wake:
	case <-timer.C:
	}
	return true
}

// Step executes the work of the task's current phase once.
func (e *Engine) Step(ctx context.Context, taskID string) (outcome Outcome, err error) {
	t, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return OutcomeParked, err
	}

	ctx, span := e.tracer.Start(ctx, "orchestrator.step", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.kind", string(t.Kind)),
		attribute.String("task.phase", string(t.Phase)),
	))
	defer func() {
		span.SetAttributes(attribute.String("step.outcome", outcome.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx = e.logger.SetValuesOnCtx(ctx, log.Kv{"task-id": t.ID, "phase": t.Phase})

	switch t.Phase {
	case model.PhaseAnalysis:
		return e.stepAnalysis(ctx, *t)
	case model.PhaseInProgress:
		return e.stepInProgress(ctx, *t)
	case model.PhasePullRequest:
		return e.stepPullRequest(ctx, *t)
	case model.PhaseTesting:
		return e.stepTesting(ctx, *t)
	case model.PhaseCodeReview:
		return e.stepCodeReview(ctx, *t)
	case model.PhaseDone:
		return OutcomeFinished, nil
	default:
		// Backlog and Blocked wait for the operator.
		return OutcomeParked, nil
	}
}
