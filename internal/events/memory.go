package events

import (
	"context"
	"sync"

	"github.com/slok/taskflow/internal/model"
)

// Recorder is a publisher that keeps the published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.TransitionEvent
	subs   []chan model.TransitionEvent
}

// NewRecorder returns a new in memory publisher.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) PublishTransition(ctx context.Context, e model.TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
	for _, s := range r.subs {
		select {
		case s <- e:
		default:
		}
	}
	return nil
}

// Events returns the published events in order.
func (r *Recorder) Events() []model.TransitionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.TransitionEvent(nil), r.events...)
}

// Subscribe returns a buffered channel receiving the next events, slow readers miss events.
func (r *Recorder) Subscribe(buffer int) <-chan model.TransitionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan model.TransitionEvent, buffer)
	r.subs = append(r.subs, ch)
	return ch
}
