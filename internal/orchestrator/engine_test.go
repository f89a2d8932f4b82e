package orchestrator_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/agent/fake"
	"github.com/slok/taskflow/internal/config"
	"github.com/slok/taskflow/internal/coordinator"
	"github.com/slok/taskflow/internal/dispatch"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/orchestrator"
	"github.com/slok/taskflow/internal/statemachine"
	"github.com/slok/taskflow/internal/storage"
	storageio "github.com/slok/taskflow/internal/storage/io"
	"github.com/slok/taskflow/internal/storage/memory"
	"github.com/slok/taskflow/internal/verdict"
)

var (
	operator  = model.OperatorActor("alice")
	manual    = model.DefaultWorkflowMode()
	automated = model.WorkflowMode{Testing: model.ModeAutomated, Review: model.ModeAutomated}
)

type testEnv struct {
	repo       *memory.Repository
	fleet      *fake.Fleet
	machine    *statemachine.Machine
	dispatcher *dispatch.Dispatcher
	engine     *orchestrator.Engine
}

type envOpts struct {
	agents            map[model.AgentKind]fake.AgentConfig
	projects          fstest.MapFS
	completionTimeout time.Duration
}

func newTestEnv(t *testing.T, opts envOpts) testEnv {
	t.Helper()
	require := require.New(t)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	fleet, err := fake.NewFleet(fake.FleetConfig{Agents: opts.agents})
	require.NoError(err)

	machine, err := statemachine.NewMachine(statemachine.MachineConfig{Repository: repo})
	require.NoError(err)

	if opts.completionTimeout == 0 {
		opts.completionTimeout = 2 * time.Second
	}
	d, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Registry:          fleet.Registry(),
		Ledger:            repo,
		AckTimeout:        time.Second,
		CompletionTimeout: opts.completionTimeout,
		CancelGrace:       100 * time.Millisecond,
	})
	require.NoError(err)

	coord, err := coordinator.NewCoordinator(coordinator.CoordinatorConfig{Dispatcher: d, Repository: repo})
	require.NoError(err)

	agg, err := verdict.NewAggregator(verdict.AggregatorConfig{Machine: machine, Repository: repo})
	require.NoError(err)

	if opts.projects == nil {
		opts.projects = fstest.MapFS{}
	}
	resolver, err := config.NewResolver(config.ResolverConfig{Repository: storageio.NewProjectConfigYAMLRepository(opts.projects)})
	require.NoError(err)

	engine, err := orchestrator.NewEngine(orchestrator.EngineConfig{
		Repository:   repo,
		Machine:      machine,
		Dispatcher:   d,
		Coordinator:  coord,
		Aggregator:   agg,
		Resolver:     resolver,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(err)

	return testEnv{repo: repo, fleet: fleet, machine: machine, dispatcher: d, engine: engine}
}

func (e testEnv) createTask(t *testing.T, kind model.TaskKind) {
	t.Helper()
	task := model.Task{ID: "t1", ProjectID: "p1", Title: "Checkout", Kind: kind, Phase: model.PhaseBacklog, CreatedAt: time.Now().UTC()}
	require.NoError(t, e.repo.CreateTask(context.Background(), task))
}

func (e testEnv) transition(t *testing.T, to model.Phase, trigger model.Trigger, mode *model.WorkflowMode) {
	t.Helper()
	_, err := e.machine.RequestTransition(context.Background(), statemachine.TransitionRequest{
		TaskID: "t1", To: to, Trigger: trigger, Actor: operator, Mode: mode,
	})
	require.NoError(t, err)
}

func (e testEnv) step(t *testing.T, expOutcome orchestrator.Outcome, expPhase model.Phase) model.Task {
	t.Helper()
	outcome, err := e.engine.Step(context.Background(), "t1")
	require.NoError(t, err)
	task, err := e.repo.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, expOutcome, outcome, "step outcome on %s", task.Phase)
	require.Equal(t, expPhase, task.Phase)
	return *task
}

// runToInProgress moves the task through the analysis until development starts.
func (e testEnv) runToInProgress(t *testing.T, kind model.TaskKind, mode model.WorkflowMode) {
	t.Helper()
	e.createTask(t, kind)
	e.step(t, orchestrator.OutcomeParked, model.PhaseBacklog)
	e.transition(t, model.PhaseAnalysis, model.TriggerStartAnalysis, nil)
	task := e.step(t, orchestrator.OutcomeParked, model.PhaseAnalysis)
	require.True(t, task.HasArtifact(model.PhaseAnalysis, model.ArtifactKindRequirements))
	require.True(t, task.HasArtifact(model.PhaseAnalysis, model.ArtifactKindDesign))
	e.transition(t, model.PhaseInProgress, model.TriggerConfirmReady, &mode)
}

func historyPhases(t model.Task) []string {
	var hs []string
	for _, h := range t.History {
		hs = append(hs, string(h.From)+">"+string(h.To))
	}
	return hs
}

func TestEngineManualTestingParks(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, envOpts{})
	env.runToInProgress(t, model.TaskKindChore, manual)

	env.step(t, orchestrator.OutcomeProgressed, model.PhasePullRequest)
	env.step(t, orchestrator.OutcomeProgressed, model.PhaseTesting)
	env.step(t, orchestrator.OutcomeParked, model.PhaseTesting)
	task := env.step(t, orchestrator.OutcomeParked, model.PhaseTesting)

	assert.Equal([]string{"backlog>analysis", "analysis>in_progress", "in_progress>pull_request", "pull_request>testing"}, historyPhases(task))
	assert.Equal([]model.Artifact{{Kind: model.ArtifactKindTestEnvironment, Ref: "http://localhost:8080/t1"}}, task.Artifacts[model.PhaseTesting])
	assert.Len(env.fleet.Agent(model.AgentKindTestEnvironment).Submissions(), 1)
	assert.Empty(task.WorkUnits)
	summary, ok := task.Artifact(model.PhaseInProgress, model.ArtifactKindSummary)
	assert.True(ok)
	assert.Contains(summary.Ref, "chore[repository]=done")
	assert.Equal(model.ActorEngine, task.History[2].Actor)
}

func TestEngineAutomatedFlowMergesToDone(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, envOpts{})
	env.runToInProgress(t, model.TaskKindFeature, automated)

	env.step(t, orchestrator.OutcomeProgressed, model.PhasePullRequest)
	env.step(t, orchestrator.OutcomeProgressed, model.PhaseTesting)
	env.step(t, orchestrator.OutcomeProgressed, model.PhaseCodeReview)
	env.step(t, orchestrator.OutcomeProgressed, model.PhaseDone)
	task := env.step(t, orchestrator.OutcomeFinished, model.PhaseDone)

	var toDone []model.HistoryEntry
	for _, h := range task.History {
		if h.To == model.PhaseDone {
			toDone = append(toDone, h)
		}
	}
	if assert.Len(toDone, 1) {
		assert.Equal(model.PhaseCodeReview, toDone[0].From)
		assert.Equal(model.TriggerMergeSucceeded, toDone[0].Trigger)
		assert.Contains(toDone[0].Reason, "merge succeeded")
	}
	assert.Len(env.fleet.Agent(model.AgentKindUITester).Submissions(), 1)
	assert.Len(env.fleet.Agent(model.AgentKindBackendTester).Submissions(), 1)
	assert.Len(env.fleet.Agent(model.AgentKindMerger).Submissions(), 1)
	assert.True(task.HasArtifact(model.PhaseCodeReview, model.ArtifactKindMerge))
}

func TestEngineAutomatedTestingFailReturnsToDevelopment(t *testing.T) {
	assert := assert.New(t)

	var fail atomic.Bool
	fail.Store(true)
	env := newTestEnv(t, envOpts{agents: map[model.AgentKind]fake.AgentConfig{
		model.AgentKindUITester: {Behavior: func(ctx context.Context, order model.WorkOrder, submission int) model.AgentResult {
			outcome := model.OutcomePass
			if fail.Load() {
				outcome = model.OutcomeFail
			}
			return model.AgentResult{Status: model.AgentResultStatusDone, ArtifactRef: "ui://" + order.ID, Verdict: &model.Verdict{Outcome: outcome, Detail: "button missing"}}
		}},
	}})
	env.runToInProgress(t, model.TaskKindFeature, automated)

	env.step(t, orchestrator.OutcomeProgressed, model.PhasePullRequest)
	env.step(t, orchestrator.OutcomeProgressed, model.PhaseTesting)
	task := env.step(t, orchestrator.OutcomeProgressed, model.PhaseInProgress)
	assert.Contains(task.History[len(task.History)-1].Reason, "button missing")

	// Second development round.
	fail.Store(false)
	env.step(t, orchestrator.OutcomeProgressed, model.PhasePullRequest)
	env.step(t, orchestrator.OutcomeProgressed, model.PhaseTesting)
	task = env.step(t, orchestrator.OutcomeProgressed, model.PhaseCodeReview)

	assert.Len(env.fleet.Agent(model.AgentKindUITester).Submissions(), 2)
	assert.True(task.HasArtifact(model.PhasePullRequest, model.ArtifactKindPullRequest))
	assert.Len(task.Artifacts[model.PhasePullRequest], 2)
}

func TestEngineManualReviewWaitsForOperator(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, envOpts{})
	mode := model.WorkflowMode{Testing: model.ModeAutomated, Review: model.ModeManual}
	env.runToInProgress(t, model.TaskKindBugfix, mode)

	env.step(t, orchestrator.OutcomeProgressed, model.PhasePullRequest)
	env.step(t, orchestrator.OutcomeProgressed, model.PhaseTesting)
	env.step(t, orchestrator.OutcomeProgressed, model.PhaseCodeReview)
	env.step(t, orchestrator.OutcomeParked, model.PhaseCodeReview)
	require.Empty(env.fleet.Agent(model.AgentKindReviewer).Submissions())

	env.transition(t, model.PhaseDone, model.TriggerMarkDone, nil)
	env.step(t, orchestrator.OutcomeFinished, model.PhaseDone)
}

func failingDeveloper(always bool) fake.Behavior {
	return func(ctx context.Context, order model.WorkOrder, submission int) model.AgentResult {
		if always || order.WorkUnit.Attempts == 1 {
			return model.AgentResult{Status: model.AgentResultStatusFailed, Detail: "tests red"}
		}
		return model.AgentResult{Status: model.AgentResultStatusDone, ArtifactRef: "change://" + order.ID}
	}
}

func TestEngineWorkUnitRetry(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, envOpts{agents: map[model.AgentKind]fake.AgentConfig{
		model.AgentKindDeveloper: {Behavior: failingDeveloper(false)},
	}})
	env.runToInProgress(t, model.TaskKindChore, manual)

	env.step(t, orchestrator.OutcomeProgressed, model.PhasePullRequest)
	assert.Len(env.fleet.Agent(model.AgentKindDeveloper).Submissions(), 2)
}

func TestEngineWorkUnitFailingTwiceBlocks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var healthy atomic.Bool
	env := newTestEnv(t, envOpts{agents: map[model.AgentKind]fake.AgentConfig{
		model.AgentKindDeveloper: {Behavior: func(ctx context.Context, order model.WorkOrder, submission int) model.AgentResult {
			return failingDeveloper(!healthy.Load())(ctx, order, submission)
		}},
	}})
	env.runToInProgress(t, model.TaskKindChore, manual)

	task := env.step(t, orchestrator.OutcomeProgressed, model.PhaseBlocked)
	assert.Equal(model.PhaseInProgress, task.BlockedFrom)
	assert.Contains(task.History[len(task.History)-1].Reason, model.ErrWorkUnitFailed.Error())
	require.Len(task.WorkUnits, 1)
	assert.Equal(model.WorkUnitStatusFailed, task.WorkUnits[0].Status)
	assert.Equal(2, task.WorkUnits[0].Attempts)
	env.step(t, orchestrator.OutcomeParked, model.PhaseBlocked)

	// Clearing the block makes the units dispatchable again.
	healthy.Store(true)
	_, err := env.machine.Fire(context.Background(), statemachine.FireRequest{TaskID: "t1", Trigger: model.TriggerClearBlock, Actor: operator})
	require.NoError(err)
	task = env.step(t, orchestrator.OutcomeProgressed, model.PhasePullRequest)
	assert.Empty(task.WorkUnits)
	assert.Len(env.fleet.Agent(model.AgentKindDeveloper).Submissions(), 3)
}

func TestEngineDispatchTimeoutBlocks(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, envOpts{
		agents: map[model.AgentKind]fake.AgentConfig{
			model.AgentKindBackendTester: {NeverComplete: true},
		},
		completionTimeout: 50 * time.Millisecond,
	})
	env.runToInProgress(t, model.TaskKindFeature, automated)

	env.step(t, orchestrator.OutcomeProgressed, model.PhasePullRequest)
	env.step(t, orchestrator.OutcomeProgressed, model.PhaseTesting)
	task := env.step(t, orchestrator.OutcomeProgressed, model.PhaseBlocked)

	assert.Equal(model.PhaseTesting, task.BlockedFrom)
	assert.Contains(task.History[len(task.History)-1].Reason, model.ErrDispatchTimeout.Error())
	assert.Empty(env.dispatcher.Outstanding("t1"))
}

func TestEngineInvalidProjectConfigBlocksDevelopment(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, envOpts{projects: fstest.MapFS{
		"p1.yaml": &fstest.MapFile{Data: []byte("definition_of_done:\n  - phase: nowhere\n")},
	}})
	env.runToInProgress(t, model.TaskKindChore, manual)

	task := env.step(t, orchestrator.OutcomeProgressed, model.PhaseBlocked)
	assert.Contains(task.History[len(task.History)-1].Reason, "invalid project configuration")
}

func TestEngineUnmetDefinitionOfDoneParks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newTestEnv(t, envOpts{projects: fstest.MapFS{
		"p1.yaml": &fstest.MapFile{Data: []byte("definition_of_done:\n  - name: changelog\n    phase: in_progress\n    contains: CHANGELOG\n")},
	}})
	env.runToInProgress(t, model.TaskKindChore, manual)

	env.step(t, orchestrator.OutcomeParked, model.PhaseInProgress)
	env.step(t, orchestrator.OutcomeParked, model.PhaseInProgress)
	assert.Len(env.fleet.Agent(model.AgentKindDeveloper).Submissions(), 1)

	task, err := storage.AttachArtifacts(context.Background(), env.repo, "t1", model.PhaseInProgress, model.Artifact{Kind: model.ArtifactKindOther, Ref: "docs://CHANGELOG.md"})
	require.NoError(err)
	require.Equal(model.PhaseInProgress, task.Phase)
	env.step(t, orchestrator.OutcomeProgressed, model.PhasePullRequest)
}

func TestEngineRunDrivesTasks(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, envOpts{})
	env.createTask(t, model.TaskKindFeature)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.engine.Run(ctx) }()

	env.transition(t, model.PhaseAnalysis, model.TriggerStartAnalysis, nil)
	env.engine.Notify("t1")
	require.Eventually(func() bool {
		task, err := env.repo.GetTask(context.Background(), "t1")
		return err == nil && task.HasArtifact(model.PhaseAnalysis, model.ArtifactKindDesign)
	}, 5*time.Second, 10*time.Millisecond)

	env.transition(t, model.PhaseInProgress, model.TriggerConfirmReady, &automated)
	env.engine.Notify("t1")
	require.Eventually(func() bool {
		task, err := env.repo.GetTask(context.Background(), "t1")
		return err == nil && task.Phase == model.PhaseDone
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine didn't stop")
	}
}

func TestEngineStopsWorkWhenOperatorBlocks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newTestEnv(t, envOpts{
		agents: map[model.AgentKind]fake.AgentConfig{
			model.AgentKindUITester: {NeverComplete: true},
		},
		completionTimeout: time.Hour,
	})
	env.runToInProgress(t, model.TaskKindFeature, automated)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.engine.Run(ctx) }()

	require.Eventually(func() bool {
		for _, o := range env.dispatcher.Outstanding("t1") {
			if o.AgentKind == model.AgentKindUITester {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	_, err := env.machine.RequestTransition(context.Background(), statemachine.TransitionRequest{
		TaskID: "t1", To: model.PhaseBlocked, Trigger: model.TriggerBlock, Actor: operator, Reason: "wrong branch",
	})
	require.NoError(err)
	env.engine.Notify("t1")

	require.Eventually(func() bool { return len(env.dispatcher.Outstanding("t1")) == 0 }, 5*time.Second, 10*time.Millisecond)

	recs, err := env.repo.ListDispatches(context.Background(), "t1")
	require.NoError(err)
	for _, r := range recs {
		if r.Phase == model.PhaseTesting {
			assert.True(r.Status.Finished(), r.WorkOrderID)
		}
	}

	task, err := env.repo.GetTask(context.Background(), "t1")
	require.NoError(err)
	assert.Equal(model.PhaseBlocked, task.Phase)
	assert.True(strings.HasSuffix(historyPhases(*task)[len(task.History)-1], ">blocked"))

	cancel()
	<-done
}
