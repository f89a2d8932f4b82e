package events

import (
	"context"

	"github.com/slok/taskflow/internal/model"
)

// Publisher publishes task lifecycle events to external observers.
// Publishing is best effort, a failed publish never rolls back a transition.
type Publisher interface {
	PublishTransition(ctx context.Context, e model.TransitionEvent) error
}

// Noop publisher does nothing.
const Noop = noop(0)

type noop int

func (noop) PublishTransition(ctx context.Context, e model.TransitionEvent) error { return nil }

// MultiPublisher publishes every event to all publishers, all are tried even when some fail.
type MultiPublisher []Publisher

func (m MultiPublisher) PublishTransition(ctx context.Context, e model.TransitionEvent) error {
	var firstErr error
	for _, p := range m {
		if err := p.PublishTransition(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
