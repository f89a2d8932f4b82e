package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/slok/taskflow/internal/agent"
	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/metrics"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// TimeoutsFunc returns the project overrides of the dispatch timeouts.
type TimeoutsFunc func(ctx context.Context, projectID string) model.Timeouts

// DispatcherConfig is the configuration of the dispatcher.
type DispatcherConfig struct {
	Registry *agent.Registry
	Ledger   storage.DispatchRepository
	// AckTimeout is the default time an agent has to acknowledge an order.
	AckTimeout time.Duration
	// CompletionTimeout is the default time an agent has to complete an acknowledged order.
	CompletionTimeout time.Duration
	// CancelGrace is the time cancelled orders have to stop before they are marked failed.
	CancelGrace time.Duration
	Timeouts    TimeoutsFunc
	Metrics     metrics.Recorder
	Logger      log.Logger
	Now         func() time.Time
}

func (c *DispatcherConfig) defaults() error {
	if c.Registry == nil {
		return fmt.Errorf("agent registry is required")
	}
	if c.Ledger == nil {
		return fmt.Errorf("dispatch ledger is required")
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 1 * time.Minute
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = 2 * time.Hour
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 10 * time.Second
	}
	if c.Timeouts == nil {
		c.Timeouts = func(context.Context, string) model.Timeouts { return model.Timeouts{} }
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "dispatch.Dispatcher"})
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

type inflight struct {
	order  model.WorkOrder
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatcher delegates work orders to agents. Dispatching is idempotent per work order ID:
// a finished order returns the recorded result, concurrent dispatches of the same order
// share the same agent submission and an order is never submitted twice.
type Dispatcher struct {
	registry          *agent.Registry
	ledger            storage.DispatchRepository
	ackTimeout        time.Duration
	completionTimeout time.Duration
	cancelGrace       time.Duration
	timeouts          TimeoutsFunc
	metrics           metrics.Recorder
	logger            log.Logger
	now               func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	// outstanding are the in-flight orders by order ID.
	outstanding map[string]*inflight
}

// NewDispatcher returns a new dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Dispatcher{
		registry:          cfg.Registry,
		ledger:            cfg.Ledger,
		ackTimeout:        cfg.AckTimeout,
		completionTimeout: cfg.CompletionTimeout,
		cancelGrace:       cfg.CancelGrace,
		timeouts:          cfg.Timeouts,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		now:               cfg.Now,
		outstanding:       map[string]*inflight{},
	}, nil
}

// Dispatch hands the order to the agent of its kind and waits for the result. An agent that
// doesn't acknowledge or complete in time returns model.ErrDispatchTimeout.
func (d *Dispatcher) Dispatch(ctx context.Context, order model.WorkOrder) (model.AgentResult, error) {
	if err := order.Validate(); err != nil {
		return model.AgentResult{}, err
	}

	v, err, shared := d.group.Do(order.ID, func() (any, error) {
		return d.dispatch(ctx, order)
	})
	if shared {
		d.logger.WithValues(log.Kv{"work-order": order.ID}).Debugf("Joined in-flight dispatch")
	}
	if err != nil {
		return model.AgentResult{}, err
	}

	return v.(model.AgentResult), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, order model.WorkOrder) (model.AgentResult, error) {
	logger := d.logger.WithCtxValues(ctx).WithValues(log.Kv{"task-id": order.TaskID, "work-order": order.ID, "agent-kind": order.AgentKind})

	rec, err := d.ledger.GetDispatch(ctx, order.ID)
	switch {
	case err == nil && rec.Status == model.DispatchStatusDone && rec.Result != nil:
		logger.Debugf("Work order already completed, replaying result")
		return *rec.Result, nil
	case err == nil && rec.Status == model.DispatchStatusFailed:
		if rec.Result != nil {
			return *rec.Result, nil
		}
		return model.AgentResult{}, fmt.Errorf("work order %s already failed: %s", order.ID, rec.Error)
	case err == nil:
		// The agent may still be working on it, submitting again would invoke it twice.
		err := fmt.Errorf("work order %s was left %s by a previous dispatch: %w", order.ID, rec.Status, model.ErrDispatchInterrupted)
		logger.Warningf("Failing unfinished work order: %s", err)
		d.finish(ctx, *rec, model.DispatchStatusFailed, nil, err.Error())
		d.metrics.WorkOrderFinished(ctx, order.AgentKind, model.DispatchStatusFailed, d.now().Sub(rec.CreatedAt))
		return model.AgentResult{}, err
	case errors.Is(err, model.ErrNotFound):
		now := d.now()
		rec = &model.DispatchRecord{
			TaskID:      order.TaskID,
			Phase:       order.Phase,
			WorkOrderID: order.ID,
			AgentKind:   order.AgentKind,
			Status:      model.DispatchStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := d.ledger.CreateDispatch(ctx, *rec); err != nil && !errors.Is(err, model.ErrAlreadyExists) {
			return model.AgentResult{}, fmt.Errorf("could not record dispatch: %w", err)
		}
	default:
		return model.AgentResult{}, fmt.Errorf("could not get dispatch: %w", err)
	}

	a, err := d.registry.Get(order.AgentKind)
	if err != nil {
		d.finish(ctx, *rec, model.DispatchStatusFailed, nil, err.Error())
		return model.AgentResult{}, err
	}

	ackTimeout, completionTimeout := d.timeoutsFor(ctx, order)

	orderCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := d.track(order, cancel)
	defer d.untrack(order.ID, done)

	d.metrics.WorkOrdersInFlight(ctx, order.AgentKind, 1)
	defer d.metrics.WorkOrdersInFlight(ctx, order.AgentKind, -1)
	start := time.Now()

	type ack struct {
		results <-chan model.AgentResult
		err     error
	}
	acks := make(chan ack, 1)
	go func() {
		res, err := a.Submit(orderCtx, order)
		acks <- ack{results: res, err: err}
	}()

	ackTimer := time.NewTimer(ackTimeout)
	defer ackTimer.Stop()

	var results <-chan model.AgentResult
	select {
	case <-ackTimer.C:
		err := fmt.Errorf("work order %s not acknowledged after %s: %w", order.ID, ackTimeout, model.ErrDispatchTimeout)
		d.finish(ctx, *rec, model.DispatchStatusFailed, nil, err.Error())
		d.metrics.WorkOrderFinished(ctx, order.AgentKind, model.DispatchStatusFailed, time.Since(start))
		return model.AgentResult{}, err
	case <-orderCtx.Done():
		return model.AgentResult{}, d.cancelled(ctx, *rec)
	case a := <-acks:
		if a.err != nil {
			err := fmt.Errorf("work order %s not accepted: %w", order.ID, a.err)
			d.finish(ctx, *rec, model.DispatchStatusFailed, nil, err.Error())
			d.metrics.WorkOrderFinished(ctx, order.AgentKind, model.DispatchStatusFailed, time.Since(start))
			return model.AgentResult{}, err
		}
		results = a.results
	}

	rec.Status = model.DispatchStatusAcknowledged
	rec.UpdatedAt = d.now()
	if err := d.ledger.UpdateDispatch(context.WithoutCancel(ctx), *rec); err != nil {
		logger.Warningf("Could not record acknowledgement: %s", err)
	}
	logger.Debugf("Work order acknowledged")

	completionTimer := time.NewTimer(completionTimeout)
	defer completionTimer.Stop()

	select {
	case <-completionTimer.C:
		err := fmt.Errorf("work order %s not completed after %s: %w", order.ID, completionTimeout, model.ErrDispatchTimeout)
		d.finish(ctx, *rec, model.DispatchStatusFailed, nil, err.Error())
		d.metrics.WorkOrderFinished(ctx, order.AgentKind, model.DispatchStatusFailed, time.Since(start))
		return model.AgentResult{}, err
	case <-orderCtx.Done():
		return model.AgentResult{}, d.cancelled(ctx, *rec)
	case res, ok := <-results:
		if !ok {
			err := fmt.Errorf("agent stopped work order %s without a result", order.ID)
			d.finish(ctx, *rec, model.DispatchStatusFailed, nil, err.Error())
			d.metrics.WorkOrderFinished(ctx, order.AgentKind, model.DispatchStatusFailed, time.Since(start))
			return model.AgentResult{}, err
		}

		status := model.DispatchStatusDone
		if res.Status != model.AgentResultStatusDone {
			status = model.DispatchStatusFailed
		}
		d.finish(ctx, *rec, status, &res, res.Detail)
		d.metrics.WorkOrderFinished(ctx, order.AgentKind, status, time.Since(start))
		logger.Infof("Work order finished: %s", status)
		return res, nil
	}
}

func (d *Dispatcher) finish(ctx context.Context, rec model.DispatchRecord, status model.DispatchStatus, res *model.AgentResult, errMsg string) {
	rec.Status = status
	rec.Result = res
	rec.Error = errMsg
	rec.UpdatedAt = d.now()
	// The ledger must be updated even when the dispatch was cancelled.
	if err := d.ledger.UpdateDispatch(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.WithValues(log.Kv{"work-order": rec.WorkOrderID}).Errorf("Could not record dispatch result: %s", err)
	}
}

// cancelled handles an order stopped before completion. Orders interrupted by the caller
// going away stay unfinished in the ledger and are failed as interrupted by the next
// dispatch of the same order, orders stopped with Cancel are failed.
func (d *Dispatcher) cancelled(ctx context.Context, rec model.DispatchRecord) error {
	if ctx.Err() != nil {
		return fmt.Errorf("work order %s interrupted: %w", rec.WorkOrderID, ctx.Err())
	}

	err := fmt.Errorf("work order %s cancelled: %w", rec.WorkOrderID, context.Canceled)
	d.finish(ctx, rec, model.DispatchStatusFailed, nil, "cancelled")
	d.metrics.WorkOrderFinished(ctx, rec.AgentKind, model.DispatchStatusFailed, d.now().Sub(rec.CreatedAt))
	return err
}

func (d *Dispatcher) timeoutsFor(ctx context.Context, order model.WorkOrder) (ack, completion time.Duration) {
	ack, completion = d.ackTimeout, d.completionTimeout
	t := d.timeouts(ctx, order.Scope.ProjectID)
	if t.Acknowledge > 0 {
		ack = t.Acknowledge
	}
	if t.Completion > 0 {
		completion = t.Completion
	}
	return ack, completion
}

func (d *Dispatcher) track(order model.WorkOrder, cancel context.CancelFunc) chan struct{} {
	done := make(chan struct{})
	d.mu.Lock()
	d.outstanding[order.ID] = &inflight{order: order, cancel: cancel, done: done}
	d.mu.Unlock()
	return done
}

func (d *Dispatcher) untrack(orderID string, done chan struct{}) {
	d.mu.Lock()
	delete(d.outstanding, orderID)
	d.mu.Unlock()
	close(done)
}

// Outstanding returns the in-flight orders of a task sorted by ID.
func (d *Dispatcher) Outstanding(taskID string) []model.WorkOrder {
	d.mu.Lock()
	defer d.mu.Unlock()

	var orders []model.WorkOrder
	for _, f := range d.outstanding {
		if f.order.TaskID == taskID {
			orders = append(orders, f.order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// Cancel asks the outstanding orders of the task phase to stop. Orders that are still
// outstanding after the grace period, and unfinished ledger entries of the phase left by
// previous runs, are marked as failed.
func (d *Dispatcher) Cancel(ctx context.Context, taskID string, phase model.Phase) error {
	logger := d.logger.WithCtxValues(ctx).WithValues(log.Kv{"task-id": taskID, "phase": phase})

	d.mu.Lock()
	var cancelled []*inflight
	for _, f := range d.outstanding {
		if f.order.TaskID == taskID && f.order.Phase == phase {
			cancelled = append(cancelled, f)
		}
	}
	d.mu.Unlock()

	for _, f := range cancelled {
		f.cancel()
	}
	if len(cancelled) > 0 {
		logger.Infof("Cancelled %d outstanding work orders", len(cancelled))
	}

	graceCtx, cancelGrace := context.WithTimeout(ctx, d.cancelGrace)
	defer cancelGrace()
	for _, f := range cancelled {
		select {
		case <-f.done:
		case <-graceCtx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recs, err := d.ledger.ListDispatches(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not list dispatches: %w", err)
	}
	for _, rec := range recs {
		if rec.Phase != phase || rec.Status.Finished() {
			continue
		}
		logger.Warningf("Work order %s still outstanding after cancellation, marking as failed", rec.WorkOrderID)
		rec.Status = model.DispatchStatusFailed
		rec.Error = "cancelled"
		rec.UpdatedAt = d.now()
		if err := d.ledger.UpdateDispatch(ctx, rec); err != nil {
			return fmt.Errorf("could not mark dispatch %s as failed: %w", rec.WorkOrderID, err)
		}
	}

	return nil
}
