package config_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/config"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage/storagemock"
)

func boolPtr(b bool) *bool { return &b }

func TestResolverResolveMode(t *testing.T) {
	tests := map[string]struct {
		mock    func(m *storagemock.MockProjectConfigRepository)
		expMode model.WorkflowMode
	}{
		"Automated testing and manual review should be resolved.": {
			mock: func(m *storagemock.MockProjectConfigRepository) {
				m.On("GetProjectConfig", mock.Anything, "p1").Once().Return(&model.ProjectConfig{ID: "p1", ManualTesting: boolPtr(false), ManualReview: boolPtr(true)}, nil)
			},
			expMode: model.WorkflowMode{Testing: model.ModeAutomated, Review: model.ModeManual},
		},

		"Unset settings should resolve to manual.": {
			mock: func(m *storagemock.MockProjectConfigRepository) {
				m.On("GetProjectConfig", mock.Anything, "p1").Once().Return(&model.ProjectConfig{ID: "p1", ManualReview: boolPtr(false)}, nil)
			},
			expMode: model.WorkflowMode{Testing: model.ModeManual, Review: model.ModeAutomated},
		},

		"A missing project should resolve to manual.": {
			mock: func(m *storagemock.MockProjectConfigRepository) {
				m.On("GetProjectConfig", mock.Anything, "p1").Once().Return(nil, fmt.Errorf("project: %w", model.ErrNotFound))
			},
			expMode: model.DefaultWorkflowMode(),
		},

		"A broken project configuration should resolve to manual.": {
			mock: func(m *storagemock.MockProjectConfigRepository) {
				m.On("GetProjectConfig", mock.Anything, "p1").Once().Return(nil, fmt.Errorf("parsing YAML"))
			},
			expMode: model.DefaultWorkflowMode(),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := &storagemock.MockProjectConfigRepository{}
			test.mock(m)

			r, err := config.NewResolver(config.ResolverConfig{Repository: m})
			require.NoError(err)

			mode, err := r.ResolveMode(context.Background(), "p1")
			require.NoError(err)
			assert.Equal(test.expMode, mode)

			m.AssertExpectations(t)
		})
	}
}

func TestResolverCachesUntilInvalidated(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	m := &storagemock.MockProjectConfigRepository{}
	m.On("GetProjectConfig", mock.Anything, "p1").Once().Return(&model.ProjectConfig{ID: "p1", ManualTesting: boolPtr(false)}, nil)
	m.On("GetProjectConfig", mock.Anything, "p1").Once().Return(&model.ProjectConfig{ID: "p1"}, nil)

	r, err := config.NewResolver(config.ResolverConfig{Repository: m})
	require.NoError(err)

	for i := 0; i < 3; i++ {
		mode, err := r.ResolveMode(ctx, "p1")
		require.NoError(err)
		assert.Equal(model.ModeAutomated, mode.Testing)
	}

	r.Invalidate("p1")
	mode, err := r.ResolveMode(ctx, "p1")
	require.NoError(err)
	assert.Equal(model.ModeManual, mode.Testing)

	m.AssertExpectations(t)
}

func TestResolverProjectConfigErrors(t *testing.T) {
	m := &storagemock.MockProjectConfigRepository{}
	m.On("GetProjectConfig", mock.Anything, "p1").Once().Return(nil, fmt.Errorf("invalid configuration: %w", model.ErrNotValid))

	r, err := config.NewResolver(config.ResolverConfig{Repository: m})
	require.NoError(t, err)

	_, err = r.ProjectConfig(context.Background(), "p1")
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestNewResolverRequiresRepository(t *testing.T) {
	_, err := config.NewResolver(config.ResolverConfig{})
	assert.Error(t, err)
}
