package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/slok/taskflow/internal/model"
)

const mutateMaxElapsed = 5 * time.Second

func newMutateBackoff() backoff.BackOff {
	// BackOff implementations are stateful, always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = mutateMaxElapsed
	return bo
}

// MutateTask reads the task, applies fn and stores the result. When the task
// was concurrently updated (model.ErrConflict) the whole read-modify-write is
// retried with a fresh copy. Errors returned by fn are never retried.
func MutateTask(ctx context.Context, repo TaskRepository, id string, fn func(t *model.Task) error) (*model.Task, error) {
	var (
		result  *model.Task
		permErr error
	)
	err := backoff.Retry(func() error {
		t, err := repo.GetTask(ctx, id)
		if err != nil {
			permErr = err
			return backoff.Permanent(err)
		}

		if err := fn(t); err != nil {
			permErr = err
			return backoff.Permanent(err)
		}

		err = repo.UpdateTask(ctx, *t)
		if err != nil {
			if errors.Is(err, model.ErrConflict) {
				return err
			}
			permErr = err
			return backoff.Permanent(err)
		}

		t.Version++
		result = t
		return nil
	}, backoff.WithContext(newMutateBackoff(), ctx))
	if permErr != nil {
		return nil, permErr
	}
	if err != nil {
		return nil, fmt.Errorf("could not update task %s: %w", id, err)
	}

	return result, nil
}

var errNoChanges = errors.New("no changes")

// AttachArtifacts appends to the task the artifacts of the phase it doesn't have yet. Artifacts
// are only attached to the phase the task is on.
func AttachArtifacts(ctx context.Context, repo TaskRepository, id string, phase model.Phase, artifacts ...model.Artifact) (*model.Task, error) {
	t, err := MutateTask(ctx, repo, id, func(t *model.Task) error {
		if t.Phase != phase {
			return fmt.Errorf("task is %s, artifacts can't be attached to %s: %w", t.Phase, phase, model.ErrNotValid)
		}

		added := 0
		for _, a := range artifacts {
			if a.Ref == "" || hasArtifact(*t, phase, a) {
				continue
			}
			t.AddArtifact(phase, a)
			added++
		}
		if added == 0 {
			return errNoChanges
		}
		return nil
	})
	if errors.Is(err, errNoChanges) {
		return repo.GetTask(ctx, id)
	}
	return t, err
}

func hasArtifact(t model.Task, phase model.Phase, a model.Artifact) bool {
	for _, aa := range t.Artifacts[phase] {
		if aa == a {
			return true
		}
	}
	return false
}
