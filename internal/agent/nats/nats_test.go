package nats_test

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/agent"
	"github.com/slok/taskflow/internal/agent/fake"
	agentnats "github.com/slok/taskflow/internal/agent/nats"
	"github.com/slok/taskflow/internal/model"
)

func startTestNATS(t *testing.T) *natsgo.Conn {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	t.Cleanup(ns.Shutdown)
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats server not ready")

	nc, err := natsgo.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	return nc
}

func startWorker(t *testing.T, nc *natsgo.Conn, kind model.AgentKind, a agent.Agent) {
	t.Helper()

	w, err := agentnats.NewWorker(agentnats.WorkerConfig{Conn: nc, Kind: kind, Agent: a})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-w.Ready():
	case err := <-done:
		t.Fatalf("worker stopped: %s", err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker not ready")
	}
}

func testOrder(kind model.AgentKind) model.WorkOrder {
	return model.WorkOrder{
		ID:        model.WorkOrderID("t1", model.PhaseAnalysis, 1, string(kind)),
		TaskID:    "t1",
		Phase:     model.PhaseAnalysis,
		Attempt:   1,
		Slot:      string(kind),
		AgentKind: kind,
		Scope:     model.Scope{TaskID: "t1", Kind: model.TaskKindFeature, Phase: model.PhaseAnalysis},
	}
}

func TestAgentSubmitRoundTrip(t *testing.T) {
	tests := map[string]struct {
		kind      model.AgentKind
		expResult func(order model.WorkOrder) model.AgentResult
	}{
		"A requirements order should return the requirements artifact.": {
			kind: model.AgentKindRequirements,
			expResult: func(order model.WorkOrder) model.AgentResult {
				return model.AgentResult{Status: model.AgentResultStatusDone, ArtifactRef: "requirements://t1"}
			},
		},

		"A design order should return the partition inline.": {
			kind: model.AgentKindDesign,
			expResult: func(order model.WorkOrder) model.AgentResult {
				return model.AgentResult{
					Status:      model.AgentResultStatusDone,
					ArtifactRef: "design://t1",
					WorkUnits:   fake.DefaultPartition(model.TaskKindFeature),
				}
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			nc := startTestNATS(t)
			fa, err := fake.NewAgent(fake.AgentConfig{Kind: test.kind})
			require.NoError(err)
			startWorker(t, nc, test.kind, fa)

			a, err := agentnats.NewAgent(agentnats.AgentConfig{Conn: nc, Kind: test.kind, AckTimeout: 2 * time.Second})
			require.NoError(err)

			order := testOrder(test.kind)
			results, err := a.Submit(context.Background(), order)
			require.NoError(err)

			select {
			case res := <-results:
				assert.Equal(test.expResult(order), res)
			case <-time.After(5 * time.Second):
				t.Fatal("result not received")
			}
			assert.Equal(1, fa.SubmissionsOf(order.ID))
		})
	}
}

func TestAgentSubmitWithoutWorkers(t *testing.T) {
	nc := startTestNATS(t)
	a, err := agentnats.NewAgent(agentnats.AgentConfig{Conn: nc, Kind: model.AgentKindReviewer, AckTimeout: time.Second})
	require.NoError(t, err)

	_, err = a.Submit(context.Background(), testOrder(model.AgentKindReviewer))
	assert.Error(t, err)
}

func TestAgentSubmitRefusedOrder(t *testing.T) {
	nc := startTestNATS(t)
	fa, err := fake.NewAgent(fake.AgentConfig{Kind: model.AgentKindReviewer})
	require.NoError(t, err)
	startWorker(t, nc, model.AgentKindReviewer, fa)

	a, err := agentnats.NewAgent(agentnats.AgentConfig{Conn: nc, Kind: model.AgentKindReviewer, AckTimeout: 2 * time.Second})
	require.NoError(t, err)

	order := testOrder(model.AgentKindReviewer)
	order.Scope.TaskID = "another-task"
	_, err = a.Submit(context.Background(), order)
	assert.Error(t, err)
	assert.Empty(t, fa.Submissions())
}

func TestAgentSubmitCancelPropagatesToWorker(t *testing.T) {
	require := require.New(t)

	nc := startTestNATS(t)
	stopped := make(chan struct{})
	local := agent.AgentFunc(func(ctx context.Context, order model.WorkOrder) (<-chan model.AgentResult, error) {
		ch := make(chan model.AgentResult)
		go func() {
			defer close(ch)
			<-ctx.Done()
			close(stopped)
		}()
		return ch, nil
	})
	startWorker(t, nc, model.AgentKindDeveloper, local)

	a, err := agentnats.NewAgent(agentnats.AgentConfig{Conn: nc, Kind: model.AgentKindDeveloper, AckTimeout: 2 * time.Second})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	results, err := a.Submit(ctx, testOrder(model.AgentKindDeveloper))
	require.NoError(err)
	cancel()

	select {
	case _, ok := <-results:
		require.False(ok)
	case <-time.After(5 * time.Second):
		t.Fatal("results channel not closed")
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker order not cancelled")
	}
}

func TestNewAgentInvalidConfig(t *testing.T) {
	_, err := agentnats.NewAgent(agentnats.AgentConfig{Kind: model.AgentKindReviewer})
	assert.Error(t, err)

	_, err = agentnats.NewWorker(agentnats.WorkerConfig{Kind: "unknown"})
	assert.Error(t, err)
}
