package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/slok/taskflow/internal/agent"
	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
)

const subjectPrefix = "taskflow.agents"

// SubmitSubject is the subject where work orders of a kind are submitted.
func SubmitSubject(kind model.AgentKind) string {
	return fmt.Sprintf("%s.%s.submit", subjectPrefix, kind)
}

// CancelSubject is the subject where cancellations of a kind are broadcast.
func CancelSubject(kind model.AgentKind) string {
	return fmt.Sprintf("%s.%s.cancel", subjectPrefix, kind)
}

type submitRequest struct {
	Order         model.WorkOrder `json:"order"`
	ResultSubject string          `json:"result_subject"`
}

type submitReply struct {
	Error string `json:"error,omitempty"`
}

type cancelRequest struct {
	OrderID string `json:"order_id"`
}

// AgentConfig is the configuration of a remote agent.
type AgentConfig struct {
	Conn *natsgo.Conn
	Kind model.AgentKind
	// AckTimeout is how long a submission waits for a worker to acknowledge it.
	AckTimeout time.Duration
	Logger     log.Logger
}

func (c *AgentConfig) defaults() error {
	if c.Conn == nil {
		return fmt.Errorf("nats connection is required")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("agent kind %q is invalid", c.Kind)
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.NATS", "agent-kind": c.Kind})
	return nil
}

// Agent submits work orders to remote workers over NATS request/reply. Results are
// delivered asynchronously on a per submission inbox.
type Agent struct {
	conn       *natsgo.Conn
	kind       model.AgentKind
	ackTimeout time.Duration
	logger     log.Logger
}

var _ agent.Agent = &Agent{}

// NewAgent returns a new remote agent client.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Agent{
		conn:       cfg.Conn,
		kind:       cfg.Kind,
		ackTimeout: cfg.AckTimeout,
		logger:     cfg.Logger,
	}, nil
}

func (a *Agent) Submit(ctx context.Context, order model.WorkOrder) (<-chan model.AgentResult, error) {
	inbox := a.conn.NewRespInbox()
	msgs := make(chan *natsgo.Msg, 1)
	sub, err := a.conn.ChanSubscribe(inbox, msgs)
	if err != nil {
		return nil, fmt.Errorf("could not subscribe to results: %w", err)
	}

	data, err := json.Marshal(submitRequest{Order: order, ResultSubject: inbox})
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("could not marshal work order: %w", err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, a.ackTimeout)
	defer cancel()
	msg, err := a.conn.RequestWithContext(ackCtx, SubmitSubject(a.kind), data)
	if err != nil {
		_ = sub.Unsubscribe()
		if errors.Is(err, natsgo.ErrNoResponders) {
			return nil, fmt.Errorf("no %s agents available: %w", a.kind, err)
		}
		return nil, fmt.Errorf("work order %s not acknowledged: %w", order.ID, err)
	}

	var reply submitReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("could not unmarshal acknowledgement: %w", err)
	}
	if reply.Error != "" {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("work order %s refused by agent: %s", order.ID, reply.Error)
	}

	a.logger.Debugf("Work order acknowledged: %s", order.ID)

	results := make(chan model.AgentResult, 1)
	go func() {
		defer close(results)
		defer func() { _ = sub.Unsubscribe() }()

		select {
		case <-ctx.Done():
			a.cancel(order.ID)
		case msg := <-msgs:
			var res model.AgentResult
			if err := json.Unmarshal(msg.Data, &res); err != nil {
				res = model.AgentResult{Status: model.AgentResultStatusFailed, Detail: fmt.Sprintf("could not unmarshal result: %s", err)}
			}
			results <- res
		}
	}()

	return results, nil
}

func (a *Agent) cancel(orderID string) {
	data, _ := json.Marshal(cancelRequest{OrderID: orderID})
	if err := a.conn.Publish(CancelSubject(a.kind), data); err != nil {
		a.logger.Warningf("Could not publish cancellation of %s: %s", orderID, err)
	}
}

// WorkerConfig is the configuration of a worker.
type WorkerConfig struct {
	Conn  *natsgo.Conn
	Kind  model.AgentKind
	Agent agent.Agent
	// Queue is the queue group shared by the workers of the same kind.
	Queue  string
	Logger log.Logger
}

func (c *WorkerConfig) defaults() error {
	if c.Conn == nil {
		return fmt.Errorf("nats connection is required")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("agent kind %q is invalid", c.Kind)
	}
	if c.Agent == nil {
		return fmt.Errorf("agent is required")
	}
	if c.Queue == "" {
		c.Queue = "taskflow-" + string(c.Kind)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.NATSWorker", "agent-kind": c.Kind})
	return nil
}

// Worker serves work orders received over NATS with a local agent.
type Worker struct {
	conn   *natsgo.Conn
	kind   model.AgentKind
	agent  agent.Agent
	queue  string
	logger log.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	ready   chan struct{}
}

// NewWorker returns a new worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		conn:    cfg.Conn,
		kind:    cfg.Kind,
		agent:   cfg.Agent,
		queue:   cfg.Queue,
		logger:  cfg.Logger,
		running: map[string]context.CancelFunc{},
		ready:   make(chan struct{}),
	}, nil
}

// Run serves work orders until the context is cancelled, running orders are cancelled on return.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	submitSub, err := w.conn.QueueSubscribe(SubmitSubject(w.kind), w.queue, func(msg *natsgo.Msg) {
		w.handleSubmit(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("could not subscribe to submissions: %w", err)
	}
	defer func() { _ = submitSub.Unsubscribe() }()

	cancelSub, err := w.conn.Subscribe(CancelSubject(w.kind), w.handleCancel)
	if err != nil {
		return fmt.Errorf("could not subscribe to cancellations: %w", err)
	}
	defer func() { _ = cancelSub.Unsubscribe() }()

	if err := w.conn.Flush(); err != nil {
		return fmt.Errorf("could not flush subscriptions: %w", err)
	}

	w.logger.Infof("Worker serving %s", SubmitSubject(w.kind))
	close(w.ready)
	<-ctx.Done()
	cancel()
	w.wg.Wait()
	return nil
}

// Ready is closed once the worker subscriptions are in place.
func (w *Worker) Ready() <-chan struct{} { return w.ready }

func (w *Worker) handleSubmit(ctx context.Context, msg *natsgo.Msg) {
	respond := func(errMsg string) {
		data, _ := json.Marshal(submitReply{Error: errMsg})
		if err := msg.Respond(data); err != nil {
			w.logger.Warningf("Could not respond submission: %s", err)
		}
	}

	var req submitRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		respond(fmt.Sprintf("invalid submission: %s", err))
		return
	}
	if err := req.Order.Validate(); err != nil {
		respond(err.Error())
		return
	}

	orderCtx, cancel := context.WithCancel(ctx)
	results, err := w.agent.Submit(orderCtx, req.Order)
	if err != nil {
		cancel()
		respond(err.Error())
		return
	}

	w.mu.Lock()
	w.running[req.Order.ID] = cancel
	w.mu.Unlock()
	respond("")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.running, req.Order.ID)
			w.mu.Unlock()
			cancel()
		}()

		res, ok := <-results
		if !ok {
			return
		}
		data, err := json.Marshal(res)
		if err != nil {
			w.logger.Errorf("Could not marshal result of %s: %s", req.Order.ID, err)
			return
		}
		if err := w.conn.Publish(req.ResultSubject, data); err != nil {
			w.logger.Errorf("Could not publish result of %s: %s", req.Order.ID, err)
		}
	}()
}

func (w *Worker) handleCancel(msg *natsgo.Msg) {
	var req cancelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return
	}

	w.mu.Lock()
	cancel, ok := w.running[req.OrderID]
	w.mu.Unlock()
	if ok {
		w.logger.Infof("Work order cancelled: %s", req.OrderID)
		cancel()
	}
}
