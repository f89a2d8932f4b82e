package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/slok/taskflow/internal/events"
	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
)

// SubjectPrefix is the prefix of all the task lifecycle subjects.
const SubjectPrefix = "taskflow.tasks"

// TransitionSubject returns the subject where the transitions of a task are published.
func TransitionSubject(taskID string) string {
	return fmt.Sprintf("%s.%s.transition", SubjectPrefix, taskID)
}

// Event is the wire representation of a transition.
type Event struct {
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Trigger   string    `json:"trigger"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PublisherConfig is the configuration of the publisher.
type PublisherConfig struct {
	Conn   *natsgo.Conn
	Logger log.Logger
}

func (c *PublisherConfig) defaults() error {
	if c.Conn == nil {
		return fmt.Errorf("nats connection is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "events.NATSPublisher"})
	return nil
}

// Publisher publishes transitions on NATS.
type Publisher struct {
	conn   *natsgo.Conn
	logger log.Logger
}

var _ events.Publisher = &Publisher{}

// NewPublisher returns a new NATS publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Publisher{conn: cfg.Conn, logger: cfg.Logger}, nil
}

func (p *Publisher) PublishTransition(ctx context.Context, e model.TransitionEvent) error {
	ev := Event{
		TaskID:    e.TaskID,
		ProjectID: e.ProjectID,
		From:      string(e.From),
		To:        string(e.To),
		Trigger:   string(e.Trigger),
		Actor:     string(e.Actor),
		Reason:    e.Reason,
		Timestamp: e.Timestamp.UTC(),
	}
	if e.Mode != nil {
		ev.Mode = e.Mode.String()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	if err := p.conn.Publish(TransitionSubject(e.TaskID), data); err != nil {
		return fmt.Errorf("could not publish event: %w", err)
	}
	p.logger.WithCtxValues(ctx).Debugf("Transition event published")

	return nil
}
