package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/slok/taskflow/internal/model"
)

// Agent is an external worker that executes work orders of a single kind.
type Agent interface {
	// Submit hands the work order to the agent, a nil error means the agent acknowledged
	// it. The returned channel receives exactly one result when the work completes.
	// Cancelling the context asks the agent to stop the work cooperatively.
	Submit(ctx context.Context, order model.WorkOrder) (<-chan model.AgentResult, error)
}

// AgentFunc is a helper to use functions as agents.
type AgentFunc func(ctx context.Context, order model.WorkOrder) (<-chan model.AgentResult, error)

func (f AgentFunc) Submit(ctx context.Context, order model.WorkOrder) (<-chan model.AgentResult, error) {
	return f(ctx, order)
}

// Registry maps agent kinds to the agents serving them.
type Registry struct {
	mu     sync.RWMutex
	agents map[model.AgentKind]Agent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: map[model.AgentKind]Agent{}}
}

// Register sets the agent of a kind, replacing the previous one.
func (r *Registry) Register(kind model.AgentKind, a Agent) error {
	if !kind.Valid() {
		return fmt.Errorf("agent kind %q: %w", kind, model.ErrNotValid)
	}
	if a == nil {
		return fmt.Errorf("agent for %s is required: %w", kind, model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[kind] = a
	return nil
}

// Get returns the agent of a kind.
func (r *Registry) Get(kind model.AgentKind) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[kind]
	if !ok {
		return nil, fmt.Errorf("agent %s is not registered: %w", kind, model.ErrNotFound)
	}
	return a, nil
}

// Kinds returns the registered kinds sorted.
func (r *Registry) Kinds() []model.AgentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]model.AgentKind, 0, len(r.agents))
	for k := range r.agents {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Validate fails if any of the kinds has no registered agent.
func (r *Registry) Validate(kinds []model.AgentKind) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, k := range kinds {
		if _, ok := r.agents[k]; !ok {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("agents not registered: %s: %w", strings.Join(missing, ", "), model.ErrNotFound)
	}
	return nil
}
