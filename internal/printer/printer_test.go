package printer_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/printer"
)

func taskFixture() model.Task {
	createdAt := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	return model.Task{
		ID:          "01HZX0000000000000000000AB",
		ProjectID:   "shop",
		Title:       "Checkout",
		Kind:        model.TaskKindFeature,
		Phase:       model.PhaseBlocked,
		BlockedFrom: model.PhaseInProgress,
		Mode:        &model.WorkflowMode{Testing: model.ModeAutomated, Review: model.ModeManual},
		WorkUnits: []model.WorkUnit{
			{ID: "u1", BoundedContextKey: "billing", AgentKind: model.AgentKindBackendDeveloper, Status: model.WorkUnitStatusFailed, Attempts: 2},
		},
		Artifacts: map[model.Phase][]model.Artifact{
			model.PhaseAnalysis: {{Kind: model.ArtifactKindRequirements, Ref: "docs://req.md"}},
		},
		History: []model.HistoryEntry{
			{From: model.PhaseBacklog, To: model.PhaseAnalysis, Trigger: model.TriggerStartAnalysis, Actor: "operator:alice", Timestamp: createdAt},
			{From: model.PhaseInProgress, To: model.PhaseBlocked, Trigger: model.TriggerBlock, Actor: model.ActorEngine, Reason: "work unit u1 failed", Timestamp: createdAt.Add(time.Hour)},
		},
		CreatedAt: createdAt,
	}
}

func TestTablePrinterPrintList(t *testing.T) {
	tests := map[string]struct {
		tasks  []model.Task
		expOut []string
	}{
		"No tasks should print nothing.": {
			tasks: nil,
		},
		"Tasks should be printed with a header and the blocked origin.": {
			tasks: []model.Task{taskFixture()},
			expOut: []string{
				"ID", "PROJECT", "PHASE",
				"01HZX0000000000000000000AB", "shop", "feature", "blocked (from in_progress)", "Checkout",
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			var buf bytes.Buffer
			err := printer.NewTablePrinter(&buf).PrintList(test.tasks)
			require.NoError(err)

			if len(test.expOut) == 0 {
				assert.Empty(buf.String())
			}
			for _, exp := range test.expOut {
				assert.Contains(buf.String(), exp)
			}
		})
	}
}

func TestTablePrinterPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintStatus(taskFixture(), []model.Verdict{
		{Phase: model.PhaseTesting, Attempt: 1, Outcome: model.OutcomeFail, Reporter: model.ActorEngine, Detail: "checkout e2e"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Phase:      blocked (from in_progress)")
	assert.Contains(t, out, "Mode:       testing automated, review manual")
	assert.Contains(t, out, "billing")
	assert.Contains(t, out, "docs://req.md")
	assert.Contains(t, out, "testing #1: fail by engine (checkout e2e)")
	assert.Contains(t, out, "work unit u1 failed")
}

func TestTablePrinterPrintStatusUnresolvedMode(t *testing.T) {
	var buf bytes.Buffer
	task := taskFixture()
	task.Mode = nil

	err := printer.NewTablePrinter(&buf).PrintStatus(task, nil)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Mode:       unresolved")
	assert.NotContains(t, buf.String(), "Verdicts:")
}

func TestJSONPrinterPrintStatus(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var buf bytes.Buffer
	err := printer.NewJSONPrinter(&buf).PrintStatus(taskFixture(), []model.Verdict{
		{Phase: model.PhaseTesting, Attempt: 1, Outcome: model.OutcomeFail, Reporter: model.ActorEngine},
	})
	require.NoError(err)

	var out map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &out))
	assert.Equal("blocked", out["phase"])
	assert.Equal("in_progress", out["blocked_from"])
	assert.Equal(map[string]any{"testing": "automated", "review": "manual"}, out["mode"])
	assert.Len(out["history"], 2)
	assert.Len(out["verdicts"], 1)
	assert.Contains(buf.String(), `"bounded_context_key": "billing"`)
	assert.Contains(buf.String(), `"ref": "docs://req.md"`)
}

func TestJSONPrinterPrintList(t *testing.T) {
	var buf bytes.Buffer

	err := printer.NewJSONPrinter(&buf).PrintList([]model.Task{taskFixture()})
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "shop", out[0]["project_id"])
	assert.Equal(t, "2026-01-30T10:00:00Z", out[0]["created_at"])
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintMessage("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}
