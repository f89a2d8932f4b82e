package agent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/agent"
	"github.com/slok/taskflow/internal/model"
)

var nopAgent = agent.AgentFunc(func(ctx context.Context, order model.WorkOrder) (<-chan model.AgentResult, error) {
	ch := make(chan model.AgentResult, 1)
	ch <- model.AgentResult{Status: model.AgentResultStatusDone}
	close(ch)
	return ch, nil
})

func TestRegistry(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	r := agent.NewRegistry()
	require.NoError(r.Register(model.AgentKindReviewer, nopAgent))
	require.NoError(r.Register(model.AgentKindMerger, nopAgent))
	assert.ErrorIs(r.Register("unknown", nopAgent), model.ErrNotValid)
	assert.ErrorIs(r.Register(model.AgentKindDeveloper, nil), model.ErrNotValid)

	_, err := r.Get(model.AgentKindReviewer)
	assert.NoError(err)
	_, err = r.Get(model.AgentKindDeveloper)
	assert.ErrorIs(err, model.ErrNotFound)

	assert.Equal([]model.AgentKind{model.AgentKindMerger, model.AgentKindReviewer}, r.Kinds())

	assert.NoError(r.Validate([]model.AgentKind{model.AgentKindReviewer}))
	err = r.Validate([]model.AgentKind{model.AgentKindReviewer, model.AgentKindDeveloper, model.AgentKindUITester})
	require.ErrorIs(err, model.ErrNotFound)
	assert.Contains(err.Error(), "developer, ui-tester")
}
