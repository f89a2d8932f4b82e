package events_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskflow/internal/events"
	"github.com/slok/taskflow/internal/model"
)

type failingPublisher struct{ calls int }

func (f *failingPublisher) PublishTransition(ctx context.Context, e model.TransitionEvent) error {
	f.calls++
	return fmt.Errorf("unreachable")
}

func TestMultiPublisher(t *testing.T) {
	assert := assert.New(t)

	failing := &failingPublisher{}
	rec := events.NewRecorder()
	sub := rec.Subscribe(1)
	p := events.MultiPublisher{failing, events.Noop, rec}

	e := model.TransitionEvent{TaskID: "t1", From: model.PhaseBacklog, To: model.PhaseAnalysis}
	err := p.PublishTransition(context.Background(), e)

	assert.Error(err)
	assert.Equal(1, failing.calls)
	assert.Equal([]model.TransitionEvent{e}, rec.Events())
	assert.Equal(e, <-sub)
}
