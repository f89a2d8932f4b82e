package resetmode_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/app/resetmode"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/statemachine"
	"github.com/slok/taskflow/internal/storage/memory"
)

func TestServiceRun(t *testing.T) {
	tests := map[string]struct {
		phase   model.Phase
		from    model.Phase
		req     resetmode.Request
		expErr  error
		expMode model.WorkflowMode
	}{
		"Blocked tasks can reset their mode": {
			phase:   model.PhaseBlocked,
			from:    model.PhaseTesting,
			req:     resetmode.Request{Testing: model.ModeAutomated, Review: model.ModeManual},
			expMode: model.WorkflowMode{Testing: model.ModeAutomated, Review: model.ModeManual},
		},
		"Running tasks keep their mode": {
			phase:  model.PhaseTesting,
			req:    resetmode.Request{Testing: model.ModeAutomated, Review: model.ModeManual},
			expErr: model.ErrModeImmutable,
		},
		"Invalid modes are rejected": {
			phase:  model.PhaseBlocked,
			from:   model.PhaseTesting,
			req:    resetmode.Request{Testing: "sometimes", Review: model.ModeManual},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			mode := model.DefaultWorkflowMode()
			require.NoError(repo.CreateTask(context.Background(), model.Task{
				ID: "t1", ProjectID: "shop", Kind: model.TaskKindChore, Phase: test.phase, BlockedFrom: test.from, Mode: &mode, CreatedAt: time.Now(),
			}))
			machine, err := statemachine.NewMachine(statemachine.MachineConfig{Repository: repo})
			require.NoError(err)

			svc, err := resetmode.NewService(resetmode.ServiceConfig{Machine: machine})
			require.NoError(err)

			req := test.req
			req.TaskID, req.Operator = "t1", "alice"
			got, err := svc.Run(context.Background(), req)
			if test.expErr != nil {
				assert.True(errors.Is(err, test.expErr), err)
				return
			}
			require.NoError(err)
			assert.Equal(test.expMode, *got.Mode)
		})
	}
}
