package status_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/app/status"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage/storagemock"
)

func TestServiceRun(t *testing.T) {
	mode := model.WorkflowMode{Testing: model.ModeAutomated, Review: model.ModeManual}
	task := &model.Task{
		ID:    "t1",
		Phase: model.PhaseTesting,
		Mode:  &mode,
		History: []model.HistoryEntry{
			{From: model.PhaseBacklog, To: model.PhaseAnalysis, Trigger: model.TriggerStartAnalysis, Actor: model.ActorOperator},
		},
	}
	verdicts := []model.Verdict{{Phase: model.PhaseTesting, Outcome: model.OutcomeFail, Attempt: 1}}

	tests := map[string]struct {
		mock      func(m *storagemock.MockRepository)
		expStatus *status.Status
		expErr    error
	}{
		"status should include the mode, history and verdicts": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetTask", mock.Anything, "t1").Once().Return(task, nil)
				m.On("ListVerdicts", mock.Anything, "t1").Once().Return(verdicts, nil)
			},
			expStatus: &status.Status{Task: *task, Mode: &mode, History: task.History, Verdicts: verdicts},
		},
		"missing task should return not found": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetTask", mock.Anything, "t1").Once().Return(nil, fmt.Errorf("task t1: %w", model.ErrNotFound))
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo := storagemock.NewMockRepository(t)
			test.mock(repo)

			svc, err := status.NewService(status.ServiceConfig{Repository: repo})
			require.NoError(err)

			got, err := svc.Run(context.Background(), status.Request{TaskID: "t1"})
			if test.expErr != nil {
				assert.True(errors.Is(err, test.expErr))
				return
			}
			require.NoError(err)
			assert.Equal(test.expStatus, got)
		})
	}
}
