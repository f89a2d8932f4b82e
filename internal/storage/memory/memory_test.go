package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
	"github.com/slok/taskflow/internal/storage/memory"
)

func newTask(id, project string) model.Task {
	return model.Task{
		ID:        id,
		ProjectID: project,
		Title:     "Task " + id,
		Kind:      model.TaskKindFeature,
		Phase:     model.PhaseBacklog,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRepositoryTasks(t *testing.T) {
	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, repo *memory.Repository)
	}{
		"Creating and getting a task should work.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				require.NoError(t, repo.CreateTask(ctx, newTask("t1", "p1")))

				got, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, "t1", got.ID)
				assert.Equal(t, 0, got.Version)
			},
		},

		"Creating a duplicated task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				require.NoError(t, repo.CreateTask(ctx, newTask("t1", "p1")))
				err := repo.CreateTask(ctx, newTask("t1", "p1"))
				assert.ErrorIs(t, err, model.ErrAlreadyExists)
			},
		},

		"Creating an invalid task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				err := repo.CreateTask(ctx, model.Task{ID: "t1"})
				assert.ErrorIs(t, err, model.ErrNotValid)
			},
		},

		"Getting a missing task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				_, err := repo.GetTask(ctx, "missing")
				assert.ErrorIs(t, err, model.ErrNotFound)
			},
		},

		"Mutating a returned task should not change the stored one.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				task := newTask("t1", "p1")
				task.AddArtifact(model.PhaseAnalysis, model.Artifact{Kind: model.ArtifactKindRequirements, Ref: "r1"})
				require.NoError(t, repo.CreateTask(ctx, task))

				got, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				got.Artifacts[model.PhaseAnalysis][0].Ref = "changed"

				got2, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, "r1", got2.Artifacts[model.PhaseAnalysis][0].Ref)
			},
		},

		"Updating a task should increase its version.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				require.NoError(t, repo.CreateTask(ctx, newTask("t1", "p1")))

				got, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				got.Title = "new"
				require.NoError(t, repo.UpdateTask(ctx, *got))

				got, err = repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, "new", got.Title)
				assert.Equal(t, 1, got.Version)
			},
		},

		"Updating a task with a stale version should conflict.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				require.NoError(t, repo.CreateTask(ctx, newTask("t1", "p1")))

				a, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				b, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)

				require.NoError(t, repo.UpdateTask(ctx, *a))
				err = repo.UpdateTask(ctx, *b)
				assert.ErrorIs(t, err, model.ErrConflict)
			},
		},

		"Updating a task that rewrites history should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				task := newTask("t1", "p1")
				task.Phase = model.PhaseAnalysis
				task.History = []model.HistoryEntry{{From: model.PhaseBacklog, To: model.PhaseAnalysis, Trigger: model.TriggerStartAnalysis, Timestamp: time.Now()}}
				require.NoError(t, repo.CreateTask(ctx, task))

				got, err := repo.GetTask(ctx, "t1")
				require.NoError(t, err)
				got.History = nil
				err = repo.UpdateTask(ctx, *got)
				assert.ErrorIs(t, err, model.ErrNotValid)
			},
		},

		"Updating a missing task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				err := repo.UpdateTask(ctx, newTask("t1", "p1"))
				assert.ErrorIs(t, err, model.ErrNotFound)
			},
		},

		"Listing tasks should filter by project and phase.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				t1 := newTask("t1", "p1")
				t2 := newTask("t2", "p1")
				t2.Phase = model.PhaseDone
				t3 := newTask("t3", "p2")
				for _, task := range []model.Task{t1, t2, t3} {
					require.NoError(t, repo.CreateTask(ctx, task))
				}

				got, err := repo.ListTasks(ctx, storage.ListTasksOpts{ProjectID: "p1"})
				require.NoError(t, err)
				assert.Len(t, got, 2)

				got, err = repo.ListTasks(ctx, storage.ListTasksOpts{Phases: []model.Phase{model.PhaseDone}})
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, "t2", got[0].ID)

				got, err = repo.ListTasks(ctx, storage.ListTasksOpts{})
				require.NoError(t, err)
				assert.Len(t, got, 3)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(t, err)
			test.actions(context.Background(), t, repo)
		})
	}
}

func TestRepositoryVerdicts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	v1 := model.Verdict{Phase: model.PhaseTesting, Outcome: model.OutcomeFail, Attempt: 1}
	v2 := model.Verdict{Phase: model.PhaseTesting, Outcome: model.OutcomePass, Attempt: 2}
	require.NoError(repo.CreateVerdict(ctx, "t1", v1))
	require.NoError(repo.CreateVerdict(ctx, "t1", v2))

	err = repo.CreateVerdict(ctx, "t1", model.Verdict{Phase: model.PhaseTesting, Outcome: model.OutcomePass, Attempt: 1})
	assert.ErrorIs(err, model.ErrAlreadyExists)

	got, err := repo.ListVerdicts(ctx, "t1")
	require.NoError(err)
	assert.Equal([]model.Verdict{v1, v2}, got)

	got, err = repo.ListVerdicts(ctx, "t2")
	require.NoError(err)
	assert.Empty(got)
}

func TestRepositoryDispatches(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	now := time.Now().UTC()
	rec := model.DispatchRecord{
		TaskID:      "t1",
		Phase:       model.PhaseAnalysis,
		WorkOrderID: "t1/analysis/1/requirements",
		AgentKind:   model.AgentKindRequirements,
		Status:      model.DispatchStatusPending,
		CreatedAt:   now,
	}
	require.NoError(repo.CreateDispatch(ctx, rec))
	assert.ErrorIs(repo.CreateDispatch(ctx, rec), model.ErrAlreadyExists)

	rec.Status = model.DispatchStatusDone
	rec.Result = &model.AgentResult{Status: model.AgentResultStatusDone, ArtifactRef: "req://t1"}
	require.NoError(repo.UpdateDispatch(ctx, rec))

	got, err := repo.GetDispatch(ctx, rec.WorkOrderID)
	require.NoError(err)
	assert.Equal(model.DispatchStatusDone, got.Status)
	assert.Equal("req://t1", got.Result.ArtifactRef)

	_, err = repo.GetDispatch(ctx, "missing")
	assert.ErrorIs(err, model.ErrNotFound)
	assert.ErrorIs(repo.UpdateDispatch(ctx, model.DispatchRecord{WorkOrderID: "missing"}), model.ErrNotFound)

	rec2 := rec
	rec2.WorkOrderID = "t1/analysis/1/design"
	rec2.CreatedAt = now.Add(time.Second)
	require.NoError(repo.CreateDispatch(ctx, rec2))

	recs, err := repo.ListDispatches(ctx, "t1")
	require.NoError(err)
	require.Len(recs, 2)
	assert.Equal(rec.WorkOrderID, recs[0].WorkOrderID)
	assert.Equal(rec2.WorkOrderID, recs[1].WorkOrderID)
}
