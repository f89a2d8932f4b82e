package metrics

import (
	"context"
	"time"

	"github.com/slok/taskflow/internal/model"
)

// Recorder knows how to record the engine metrics.
type Recorder interface {
	TransitionAccepted(ctx context.Context, from, to model.Phase, trigger model.Trigger)
	TransitionRejected(ctx context.Context, from, to model.Phase, trigger model.Trigger)
	WorkOrderFinished(ctx context.Context, kind model.AgentKind, status model.DispatchStatus, duration time.Duration)
	WorkOrdersInFlight(ctx context.Context, kind model.AgentKind, delta int)
	WorkUnitFinished(ctx context.Context, status model.WorkUnitStatus)
	VerdictRecorded(ctx context.Context, phase model.Phase, outcome model.Outcome)
}

// Noop recorder does nothing.
const Noop = noop(0)

type noop int

func (noop) TransitionAccepted(context.Context, model.Phase, model.Phase, model.Trigger) {}
func (noop) TransitionRejected(context.Context, model.Phase, model.Phase, model.Trigger) {}
func (noop) WorkOrderFinished(context.Context, model.AgentKind, model.DispatchStatus, time.Duration) {
}
func (noop) WorkOrdersInFlight(context.Context, model.AgentKind, int) {}
func (noop) WorkUnitFinished(context.Context, model.WorkUnitStatus) {}
func (noop) VerdictRecorded(context.Context, model.Phase, model.Outcome) {}
