package fake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/slok/taskflow/internal/agent"
	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	storageio "github.com/slok/taskflow/internal/storage/io"
)

// Behavior returns the result of a work order. Submission is the number of times the
// same work order ID has been submitted to the agent, starting at 1.
type Behavior func(ctx context.Context, order model.WorkOrder, submission int) model.AgentResult

// AgentConfig is the configuration of a fake agent.
type AgentConfig struct {
	Kind model.AgentKind
	// Behavior defaults to a successful result for the kind.
	Behavior Behavior
	AckDelay time.Duration
	Latency  time.Duration
	// NeverAck blocks submissions until the context is cancelled.
	NeverAck bool
	// NeverComplete acknowledges but never reports a result.
	NeverComplete bool
	// PartitionDir is where design agents write the partition file, empty returns the
	// partition inline.
	PartitionDir string
	Logger       log.Logger
}

func (c *AgentConfig) defaults() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("agent kind %q is invalid", c.Kind)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.Fake", "agent-kind": c.Kind})
	if c.Behavior == nil {
		c.Behavior = DefaultBehavior(c.Kind, c.PartitionDir)
	}
	return nil
}

// Agent is a scripted agent that records how it was used.
type Agent struct {
	cfg    AgentConfig
	logger log.Logger

	mu            sync.Mutex
	submissions   []model.WorkOrder
	perOrder      map[string]int
	running       int
	maxRunning    int
	runningKey    map[string]int
	maxRunningKey map[string]int
}

var _ agent.Agent = &Agent{}

// NewAgent returns a new fake agent.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Agent{
		cfg:           cfg,
		logger:        cfg.Logger,
		perOrder:      map[string]int{},
		runningKey:    map[string]int{},
		maxRunningKey: map[string]int{},
	}, nil
}

func (a *Agent) Submit(ctx context.Context, order model.WorkOrder) (<-chan model.AgentResult, error) {
	submission := a.record(order)

	if a.cfg.NeverAck {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.cfg.AckDelay > 0 {
		select {
		case <-time.After(a.cfg.AckDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	key := concurrencyKey(order)
	a.start(key)
	a.logger.Debugf("Work order acknowledged: %s", order.ID)

	ch := make(chan model.AgentResult, 1)
	go func() {
		defer close(ch)
		defer a.finish(key)

		if a.cfg.NeverComplete {
			<-ctx.Done()
			return
		}
		if a.cfg.Latency > 0 {
			select {
			case <-time.After(a.cfg.Latency):
			case <-ctx.Done():
				return
			}
		}

		ch <- a.cfg.Behavior(ctx, order, submission)
	}()

	return ch, nil
}

// Submissions returns all the submitted work orders in order.
func (a *Agent) Submissions() []model.WorkOrder {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.WorkOrder(nil), a.submissions...)
}

// SubmissionsOf returns how many times a work order ID was submitted.
func (a *Agent) SubmissionsOf(orderID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perOrder[orderID]
}

// MaxConcurrent returns the maximum number of orders that were running at the same time.
func (a *Agent) MaxConcurrent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxRunning
}

// MaxConcurrentByKey returns the maximum concurrency observed per bounded context key.
func (a *Agent) MaxConcurrentByKey() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := make(map[string]int, len(a.maxRunningKey))
	for k, v := range a.maxRunningKey {
		res[k] = v
	}
	return res
}

func (a *Agent) record(order model.WorkOrder) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submissions = append(a.submissions, order)
	a.perOrder[order.ID]++
	return a.perOrder[order.ID]
}

func (a *Agent) start(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running++
	a.maxRunning = max(a.maxRunning, a.running)
	a.runningKey[key]++
	a.maxRunningKey[key] = max(a.maxRunningKey[key], a.runningKey[key])
}

func (a *Agent) finish(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running--
	a.runningKey[key]--
}

func concurrencyKey(order model.WorkOrder) string {
	if order.WorkUnit != nil {
		return order.WorkUnit.BoundedContextKey
	}
	return order.Slot
}

// DefaultPartition is the work unit partition produced by the default design behavior.
func DefaultPartition(kind model.TaskKind) []model.WorkUnit {
	if kind == model.TaskKindChore {
		return []model.WorkUnit{
			{ID: "chore", Description: "Maintenance change", AgentKind: model.AgentKindDeveloper, BoundedContextKey: "repository", Status: model.WorkUnitStatusPending},
		}
	}
	return []model.WorkUnit{
		{ID: "backend", Description: "Backend changes", AgentKind: model.AgentKindBackendDeveloper, BoundedContextKey: "backend", Status: model.WorkUnitStatusPending},
		{ID: "frontend", Description: "Frontend changes", AgentKind: model.AgentKindFrontendDeveloper, BoundedContextKey: "frontend", Status: model.WorkUnitStatusPending},
	}
}

// DefaultBehavior returns a behavior that always succeeds with plausible artifacts for the kind.
func DefaultBehavior(kind model.AgentKind, partitionDir string) Behavior {
	return func(ctx context.Context, order model.WorkOrder, submission int) model.AgentResult {
		done := model.AgentResult{Status: model.AgentResultStatusDone}
		switch kind {
		case model.AgentKindRequirements:
			done.ArtifactRef = "requirements://" + order.TaskID

		case model.AgentKindDesign:
			units := DefaultPartition(order.Scope.Kind)
			done.WorkUnits = units
			done.ArtifactRef = "design://" + order.TaskID
			if partitionDir != "" {
				ref, err := writePartition(partitionDir, order, units)
				if err != nil {
					return model.AgentResult{Status: model.AgentResultStatusFailed, Detail: err.Error()}
				}
				done.ArtifactRef = ref
				done.WorkUnits = nil
			}

		case model.AgentKindDeveloper, model.AgentKindFrontendDeveloper, model.AgentKindBackendDeveloper:
			done.ArtifactRef = "change://" + order.ID

		case model.AgentKindUITester, model.AgentKindBackendTester:
			done.ArtifactRef = "test-report://" + order.ID
			done.Verdict = &model.Verdict{Phase: model.PhaseTesting, Outcome: model.OutcomePass, ReportRef: done.ArtifactRef}

		case model.AgentKindTestEnvironment:
			done.ArtifactRef = "environment://" + order.TaskID
			done.URLs = []string{"http://localhost:8080/" + order.TaskID}

		case model.AgentKindReviewer:
			done.ArtifactRef = "review://" + order.ID
			done.Verdict = &model.Verdict{Phase: model.PhaseCodeReview, Outcome: model.OutcomePass, ReportRef: done.ArtifactRef}

		case model.AgentKindMerger:
			done.ArtifactRef = "merge://" + order.TaskID
			done.Merge = model.MergeStatusMerged
		}
		return done
	}
}

func writePartition(dir string, order model.WorkOrder, units []model.WorkUnit) (string, error) {
	data, err := storageio.MarshalPartition(units)
	if err != nil {
		return "", fmt.Errorf("could not marshal partition: %w", err)
	}

	rel := filepath.ToSlash(filepath.Join(order.TaskID, fmt.Sprintf("design-%d.yaml", order.Attempt)))
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("could not create partition dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("could not write partition: %w", err)
	}

	return storageio.PartitionRefPrefix + rel, nil
}

// FleetConfig is the configuration of a fleet of fake agents.
type FleetConfig struct {
	// Agents overrides the configuration of some kinds, the rest use defaults.
	Agents       map[model.AgentKind]AgentConfig
	PartitionDir string
	Logger       log.Logger
}

// Fleet is a fake agent for every kind.
type Fleet struct {
	agents   map[model.AgentKind]*Agent
	registry *agent.Registry
}

// NewFleet returns a registry where all kinds are served by fake agents.
func NewFleet(cfg FleetConfig) (*Fleet, error) {
	f := &Fleet{agents: map[model.AgentKind]*Agent{}, registry: agent.NewRegistry()}
	for _, kind := range model.AgentKinds() {
		acfg, ok := cfg.Agents[kind]
		if !ok {
			acfg = AgentConfig{}
		}
		acfg.Kind = kind
		if acfg.PartitionDir == "" {
			acfg.PartitionDir = cfg.PartitionDir
		}
		if acfg.Logger == nil {
			acfg.Logger = cfg.Logger
		}

		a, err := NewAgent(acfg)
		if err != nil {
			return nil, err
		}
		f.agents[kind] = a
		if err := f.registry.Register(kind, a); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Registry returns the registry of the fleet.
func (f *Fleet) Registry() *agent.Registry { return f.registry }

// Agent returns the fake agent of a kind.
func (f *Fleet) Agent(kind model.AgentKind) *Agent { return f.agents[kind] }
