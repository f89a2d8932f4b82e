package fake_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/agent/fake"
	"github.com/slok/taskflow/internal/model"
	storageio "github.com/slok/taskflow/internal/storage/io"
)

func order(id string, kind model.AgentKind) model.WorkOrder {
	return model.WorkOrder{
		ID:        "t1/" + id,
		TaskID:    "t1",
		Phase:     model.PhaseAnalysis,
		Attempt:   1,
		Slot:      id,
		AgentKind: kind,
		Scope:     model.Scope{TaskID: "t1", Kind: model.TaskKindFeature},
	}
}

func TestAgentDefaultBehaviors(t *testing.T) {
	tests := map[string]struct {
		kind  model.AgentKind
		check func(t *testing.T, res model.AgentResult)
	}{
		"Design agents should return a partition.": {
			kind: model.AgentKindDesign,
			check: func(t *testing.T, res model.AgentResult) {
				assert.Len(t, res.WorkUnits, 2)
				assert.Equal(t, "design://t1", res.ArtifactRef)
			},
		},
		"Testers should return a passing testing verdict.": {
			kind: model.AgentKindUITester,
			check: func(t *testing.T, res model.AgentResult) {
				require.NotNil(t, res.Verdict)
				assert.Equal(t, model.PhaseTesting, res.Verdict.Phase)
				assert.Equal(t, model.OutcomePass, res.Verdict.Outcome)
			},
		},
		"Reviewers should return a passing review verdict.": {
			kind: model.AgentKindReviewer,
			check: func(t *testing.T, res model.AgentResult) {
				require.NotNil(t, res.Verdict)
				assert.Equal(t, model.PhaseCodeReview, res.Verdict.Phase)
			},
		},
		"Mergers should merge.": {
			kind: model.AgentKindMerger,
			check: func(t *testing.T, res model.AgentResult) {
				assert.Equal(t, model.MergeStatusMerged, res.Merge)
			},
		},
		"Test environments should publish URLs.": {
			kind: model.AgentKindTestEnvironment,
			check: func(t *testing.T, res model.AgentResult) {
				assert.NotEmpty(t, res.URLs)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			a, err := fake.NewAgent(fake.AgentConfig{Kind: test.kind})
			require.NoError(err)

			ch, err := a.Submit(context.Background(), order("x", test.kind))
			require.NoError(err)
			res := <-ch
			assert.Equal(t, model.AgentResultStatusDone, res.Status)
			test.check(t, res)
		})
	}
}

func TestAgentWritesPartitionFile(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	a, err := fake.NewAgent(fake.AgentConfig{Kind: model.AgentKindDesign, PartitionDir: dir})
	require.NoError(err)

	ch, err := a.Submit(context.Background(), order("design", model.AgentKindDesign))
	require.NoError(err)
	res := <-ch
	require.Equal(model.AgentResultStatusDone, res.Status)
	assert.Equal(t, "file://t1/design-1.yaml", res.ArtifactRef)

	units, err := storageio.NewPartitionYAMLRepository(os.DirFS(dir)).GetPartition(context.Background(), res.ArtifactRef)
	require.NoError(err)
	assert.Equal(t, fake.DefaultPartition(model.TaskKindFeature), units)
}

func TestAgentTracksSubmissionsAndConcurrency(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	a, err := fake.NewAgent(fake.AgentConfig{Kind: model.AgentKindDeveloper, Latency: 50 * time.Millisecond})
	require.NoError(err)

	var chs []<-chan model.AgentResult
	for _, id := range []string{"a", "b", "a"} {
		ch, err := a.Submit(context.Background(), order(id, model.AgentKindDeveloper))
		require.NoError(err)
		chs = append(chs, ch)
	}
	for _, ch := range chs {
		<-ch
	}

	assert.Len(a.Submissions(), 3)
	assert.Equal(2, a.SubmissionsOf("t1/a"))
	assert.Equal(3, a.MaxConcurrent())
	assert.Equal(2, a.MaxConcurrentByKey()["a"])
}

func TestAgentNeverAckRespectsContext(t *testing.T) {
	a, err := fake.NewAgent(fake.AgentConfig{Kind: model.AgentKindReviewer, NeverAck: true})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Submit(ctx, order("x", model.AgentKindReviewer))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFleetServesAllKinds(t *testing.T) {
	f, err := fake.NewFleet(fake.FleetConfig{})
	require.NoError(t, err)
	assert.NoError(t, f.Registry().Validate(model.AgentKinds()))
	assert.NotNil(t, f.Agent(model.AgentKindMerger))
}
