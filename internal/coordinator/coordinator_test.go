package coordinator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/agent/fake"
	"github.com/slok/taskflow/internal/coordinator"
	"github.com/slok/taskflow/internal/dispatch"
	"github.com/slok/taskflow/internal/model"
	storageio "github.com/slok/taskflow/internal/storage/io"
	"github.com/slok/taskflow/internal/storage/memory"
)

type testEnv struct {
	repo  *memory.Repository
	fleet *fake.Fleet
	coord *coordinator.Coordinator
}

func newTestEnv(t *testing.T, fleetCfg fake.FleetConfig, mutate func(c *coordinator.CoordinatorConfig)) testEnv {
	t.Helper()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	fleet, err := fake.NewFleet(fleetCfg)
	require.NoError(t, err)

	d, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Registry:          fleet.Registry(),
		Ledger:            repo,
		AckTimeout:        time.Second,
		CompletionTimeout: time.Second,
	})
	require.NoError(t, err)

	cfg := coordinator.CoordinatorConfig{
		Dispatcher: d,
		Repository: repo,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := coordinator.NewCoordinator(cfg)
	require.NoError(t, err)

	return testEnv{repo: repo, fleet: fleet, coord: c}
}

func units(specs ...string) []model.WorkUnit {
	// Specs are "id:key".
	var us []model.WorkUnit
	for _, s := range specs {
		id, key := s[:len(s)-2], s[len(s)-1:]
		us = append(us, model.WorkUnit{ID: id, AgentKind: model.AgentKindDeveloper, BoundedContextKey: key, Status: model.WorkUnitStatusPending})
	}
	return us
}

func createTask(t *testing.T, repo *memory.Repository, designRef string, us []model.WorkUnit) model.Task {
	t.Helper()

	task := model.Task{
		ID:        "t1",
		ProjectID: "p1",
		Kind:      model.TaskKindFeature,
		Phase:     model.PhaseInProgress,
		WorkUnits: us,
		CreatedAt: time.Now().UTC(),
		History: []model.HistoryEntry{
			{From: model.PhaseBacklog, To: model.PhaseAnalysis, Trigger: model.TriggerStartAnalysis},
			{From: model.PhaseAnalysis, To: model.PhaseInProgress, Trigger: model.TriggerConfirmReady},
		},
	}
	task.AddArtifact(model.PhaseAnalysis, model.Artifact{Kind: model.ArtifactKindRequirements, Ref: "requirements://t1"})
	task.AddArtifact(model.PhaseAnalysis, model.Artifact{Kind: model.ArtifactKindDesign, Ref: designRef})
	require.NoError(t, repo.CreateTask(context.Background(), task))

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	return *got
}

func TestCoordinatorPlan(t *testing.T) {
	partitionDir := t.TempDir()
	data, err := storageio.MarshalPartition(units("api:b", "web:f"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(partitionDir, "t1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(partitionDir, "t1", "design-1.yaml"), data, 0o644))

	tests := map[string]struct {
		designRef string
		units     []model.WorkUnit
		ledger    []model.DispatchRecord
		expUnits  []model.WorkUnit
		expErrIs  error
	}{
		"The partition returned by the design agent should be used.": {
			designRef: "design://t1",
			ledger: []model.DispatchRecord{{
				TaskID: "t1", Phase: model.PhaseAnalysis, WorkOrderID: "t1/analysis/1/design", AgentKind: model.AgentKindDesign,
				Status: model.DispatchStatusDone,
				Result: &model.AgentResult{Status: model.AgentResultStatusDone, ArtifactRef: "design://t1", WorkUnits: units("a:x", "b:y")},
			}},
			expUnits: units("a:x", "b:y"),
		},

		"A partition file referenced by the design should be used.": {
			designRef: "file://t1/design-1.yaml",
			expUnits:  units("api:b", "web:f"),
		},

		"A design without partition should fail.": {
			designRef: "design://t1",
			expErrIs:  model.ErrNotValid,
		},

		"A design result of another design artifact should be ignored.": {
			designRef: "design://t1-v2",
			ledger: []model.DispatchRecord{{
				TaskID: "t1", Phase: model.PhaseAnalysis, WorkOrderID: "t1/analysis/1/design", AgentKind: model.AgentKindDesign,
				Status: model.DispatchStatusDone,
				Result: &model.AgentResult{Status: model.AgentResultStatusDone, ArtifactRef: "design://t1", WorkUnits: units("a:x")},
			}},
			expErrIs: model.ErrNotValid,
		},

		"Existing units should be kept and failed or interrupted ones reset.": {
			designRef: "design://t1",
			units: []model.WorkUnit{
				{ID: "a", AgentKind: model.AgentKindDeveloper, BoundedContextKey: "x", Status: model.WorkUnitStatusDone, Attempts: 1, ArtifactRef: "change://a"},
				{ID: "b", AgentKind: model.AgentKindDeveloper, BoundedContextKey: "y", Status: model.WorkUnitStatusFailed, Attempts: 2, Error: "boom"},
				{ID: "c", AgentKind: model.AgentKindDeveloper, BoundedContextKey: "z", Status: model.WorkUnitStatusRunning, Attempts: 1},
			},
			expUnits: []model.WorkUnit{
				{ID: "a", AgentKind: model.AgentKindDeveloper, BoundedContextKey: "x", Status: model.WorkUnitStatusDone, Attempts: 1, ArtifactRef: "change://a"},
				{ID: "b", AgentKind: model.AgentKindDeveloper, BoundedContextKey: "y", Status: model.WorkUnitStatusPending},
				{ID: "c", AgentKind: model.AgentKindDeveloper, BoundedContextKey: "z", Status: model.WorkUnitStatusPending},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			env := newTestEnv(t, fake.FleetConfig{}, func(c *coordinator.CoordinatorConfig) {
				c.Partitions = storageio.NewPartitionYAMLRepository(os.DirFS(partitionDir))
			})
			task := createTask(t, env.repo, test.designRef, test.units)
			for _, r := range test.ledger {
				require.NoError(env.repo.CreateDispatch(context.Background(), r))
			}

			gotUnits, err := env.coord.Plan(context.Background(), task)
			if test.expErrIs != nil {
				assert.ErrorIs(err, test.expErrIs)
				return
			}
			require.NoError(err)
			assert.Equal(test.expUnits, gotUnits)

			stored, err := env.repo.GetTask(context.Background(), "t1")
			require.NoError(err)
			assert.Equal(test.expUnits, stored.WorkUnits)
		})
	}
}

func TestCoordinatorRunSerializesSameKey(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newTestEnv(t, fake.FleetConfig{Agents: map[model.AgentKind]fake.AgentConfig{
		model.AgentKindDeveloper: {Latency: 20 * time.Millisecond},
	}}, nil)
	createTask(t, env.repo, "design://t1", units("a1:a", "a2:a", "a3:a", "b1:b", "c1:c"))

	report, err := env.coord.Run(context.Background(), "t1")
	require.NoError(err)

	assert.True(report.AllDone())
	assert.Empty(report.Failed)
	dev := env.fleet.Agent(model.AgentKindDeveloper)
	assert.Equal(map[string]int{"a": 1, "b": 1, "c": 1}, dev.MaxConcurrentByKey())
	assert.Greater(dev.MaxConcurrent(), 1)

	stored, err := env.repo.GetTask(context.Background(), "t1")
	require.NoError(err)
	assert.Len(stored.Artifacts[model.PhaseInProgress], 5)
	for _, u := range stored.WorkUnits {
		assert.Equal(model.WorkUnitStatusDone, u.Status)
		assert.Equal(1, u.Attempts)
		assert.Equal("change://t1/in_progress/1/unit-"+u.ID+"-1", u.ArtifactRef)
	}
}

func TestCoordinatorRunMaxParallel(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, fake.FleetConfig{Agents: map[model.AgentKind]fake.AgentConfig{
		model.AgentKindDeveloper: {Latency: 10 * time.Millisecond},
	}}, func(c *coordinator.CoordinatorConfig) { c.MaxParallel = 1 })
	createTask(t, env.repo, "design://t1", units("a1:a", "b1:b", "c1:c"))

	report, err := env.coord.Run(context.Background(), "t1")
	require.NoError(err)
	require.True(report.AllDone())
	assert.Equal(t, 1, env.fleet.Agent(model.AgentKindDeveloper).MaxConcurrent())
}

func failFirstAttemptOf(unitID string, always bool) fake.Behavior {
	return func(ctx context.Context, order model.WorkOrder, submission int) model.AgentResult {
		if order.WorkUnit.ID == unitID && (always || order.WorkUnit.Attempts == 1) {
			return model.AgentResult{Status: model.AgentResultStatusFailed, Detail: "compilation failed"}
		}
		return model.AgentResult{Status: model.AgentResultStatusDone, ArtifactRef: "change://" + order.ID}
	}
}

func TestCoordinatorRetry(t *testing.T) {
	tests := map[string]struct {
		always       bool
		expRetryDone bool
		expAttempts  int
	}{
		"A unit failing once should succeed on retry.": {
			always:       false,
			expRetryDone: true,
			expAttempts:  2,
		},

		"A unit failing always should be reported after the retry.": {
			always:       true,
			expRetryDone: false,
			expAttempts:  2,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			env := newTestEnv(t, fake.FleetConfig{Agents: map[model.AgentKind]fake.AgentConfig{
				model.AgentKindDeveloper: {Behavior: failFirstAttemptOf("a2", test.always)},
			}}, nil)
			createTask(t, env.repo, "design://t1", units("a1:a", "a2:a", "b1:b"))

			report, err := env.coord.Run(context.Background(), "t1")
			require.NoError(err)
			require.Len(report.Failed, 1)
			assert.Equal("a2", report.Failed[0].ID)
			assert.Equal("compilation failed", report.Failed[0].Error)
			assert.False(report.AllDone())

			report, err = env.coord.Retry(context.Background(), "t1")
			require.NoError(err)
			assert.Equal(test.expRetryDone, report.AllDone())
			i := slicesIndex(report.Units, "a2")
			require.GreaterOrEqual(i, 0)
			assert.Equal(test.expAttempts, report.Units[i].Attempts)

			// Retry budget is exhausted, nothing else is dispatched.
			subs := len(env.fleet.Agent(model.AgentKindDeveloper).Submissions())
			_, err = env.coord.Retry(context.Background(), "t1")
			require.NoError(err)
			assert.Len(env.fleet.Agent(model.AgentKindDeveloper).Submissions(), subs)
		})
	}
}

func slicesIndex(us []model.WorkUnit, id string) int {
	for i, u := range us {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func TestCoordinatorRunDispatchTimeout(t *testing.T) {
	env := newTestEnv(t, fake.FleetConfig{Agents: map[model.AgentKind]fake.AgentConfig{
		model.AgentKindDeveloper: {NeverAck: true},
	}}, nil)
	createTask(t, env.repo, "design://t1", units("a1:a", "b1:b"))

	_, err := env.coord.Run(context.Background(), "t1")
	assert.ErrorIs(t, err, model.ErrDispatchTimeout)
}

func TestCoordinatorRunRequiresInProgress(t *testing.T) {
	env := newTestEnv(t, fake.FleetConfig{}, nil)
	task := model.Task{ID: "t1", ProjectID: "p1", Kind: model.TaskKindFeature, Phase: model.PhaseBacklog, CreatedAt: time.Now()}
	require.NoError(t, env.repo.CreateTask(context.Background(), task))

	_, err := env.coord.Run(context.Background(), "t1")
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestCheckDoD(t *testing.T) {
	done := []model.WorkUnit{
		{ID: "a", Status: model.WorkUnitStatusDone, ArtifactRef: "change://a"},
		{ID: "b", Status: model.WorkUnitStatusDone, ArtifactRef: "change://b"},
	}
	task := model.Task{ID: "t1"}
	task.AddArtifact(model.PhaseInProgress, model.Artifact{Kind: model.ArtifactKindWorkUnit, Ref: "change://a"})
	task.AddArtifact(model.PhaseInProgress, model.Artifact{Kind: model.ArtifactKindWorkUnit, Ref: "change://b"})
	task.AddArtifact(model.PhaseInProgress, model.Artifact{Kind: model.ArtifactKindOther, Ref: "docs://changelog"})

	tests := map[string]struct {
		units     []model.WorkUnit
		checklist []model.DoDItem
		expResult coordinator.DoDResult
	}{
		"Done units with artifacts and no checklist should pass.": {
			units:     done,
			expResult: coordinator.DoDResult{Passed: true},
		},

		"No units should not pass.": {
			expResult: coordinator.DoDResult{Unmet: []string{"task has no work units"}},
		},

		"A unit without artifact should not pass.": {
			units:     []model.WorkUnit{{ID: "a", Status: model.WorkUnitStatusDone}},
			expResult: coordinator.DoDResult{Unmet: []string{"work unit a has no artifact"}},
		},

		"A met checklist should pass.": {
			units: done,
			checklist: []model.DoDItem{
				{Name: "changes", Phase: model.PhaseInProgress, Kind: model.ArtifactKindWorkUnit, MinArtifacts: 2},
				{Name: "changelog", Phase: model.PhaseInProgress, Contains: "changelog"},
			},
			expResult: coordinator.DoDResult{Passed: true},
		},

		"An unmet checklist should report the unmet items.": {
			units: done,
			checklist: []model.DoDItem{
				{Name: "changes", Phase: model.PhaseInProgress, Kind: model.ArtifactKindWorkUnit, MinArtifacts: 3},
				{Name: "docs", Phase: model.PhaseInProgress, Kind: model.ArtifactKindWorkUnit, Contains: "docs://"},
				{Name: "requirements", Phase: model.PhaseAnalysis, MinArtifacts: 1},
			},
			expResult: coordinator.DoDResult{Unmet: []string{
				"changes: 2 of 3 artifacts",
				`docs: no artifact contains "docs://"`,
				"requirements: 0 of 1 artifacts",
			}},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expResult, coordinator.CheckDoD(task, test.units, test.checklist))
		})
	}
}

func TestSummary(t *testing.T) {
	us := []model.WorkUnit{
		{ID: "api", BoundedContextKey: "backend", Status: model.WorkUnitStatusDone, ArtifactRef: "change://1"},
		{ID: "web", BoundedContextKey: "frontend", Status: model.WorkUnitStatusFailed},
	}
	assert.Equal(t, "api[backend]=done(change://1);web[frontend]=failed", coordinator.Summary(us))
}
