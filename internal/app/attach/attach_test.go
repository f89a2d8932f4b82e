package attach_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/app/attach"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage/memory"
)

type notifier struct{ ids []string }

func (n *notifier) Notify(id string) { n.ids = append(n.ids, id) }

func TestServiceRun(t *testing.T) {
	existing := model.Artifact{Kind: model.ArtifactKindOther, Ref: "docs://README.md"}

	tests := map[string]struct {
		req          attach.Request
		expErr       error
		expArtifacts []model.Artifact
	}{
		"Artifacts are attached to the current phase": {
			req:          attach.Request{Kind: model.ArtifactKindTestReport, Ref: "report://1"},
			expArtifacts: []model.Artifact{existing, {Kind: model.ArtifactKindTestReport, Ref: "report://1"}},
		},
		"Kind defaults to other": {
			req:          attach.Request{Ref: "docs://CHANGELOG.md"},
			expArtifacts: []model.Artifact{existing, {Kind: model.ArtifactKindOther, Ref: "docs://CHANGELOG.md"}},
		},
		"Attaching an existing artifact is a no-op": {
			req:          attach.Request{Ref: existing.Ref},
			expArtifacts: []model.Artifact{existing},
		},
		"Artifacts of other phases are rejected": {
			req:    attach.Request{Phase: model.PhaseAnalysis, Ref: "req://1"},
			expErr: model.ErrNotValid,
		},
		"Empty refs are rejected": {
			req:    attach.Request{},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			require.NoError(repo.CreateTask(context.Background(), model.Task{
				ID: "t1", ProjectID: "shop", Kind: model.TaskKindChore, Phase: model.PhaseTesting, CreatedAt: time.Now(),
				Artifacts: map[model.Phase][]model.Artifact{model.PhaseTesting: {existing}},
			}))
			n := &notifier{}

			svc, err := attach.NewService(attach.ServiceConfig{Repository: repo, Notifier: n})
			require.NoError(err)

			req := test.req
			req.TaskID = "t1"
			got, err := svc.Run(context.Background(), req)
			if test.expErr != nil {
				assert.True(errors.Is(err, test.expErr), err)
				assert.Empty(n.ids)
				return
			}
			require.NoError(err)
			assert.Equal(test.expArtifacts, got.Artifacts[model.PhaseTesting])
			assert.Equal([]string{"t1"}, n.ids)
		})
	}
}
