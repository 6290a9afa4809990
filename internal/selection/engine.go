package selection

import (
	"fmt"
	"log/slog"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/internal/metrics"
	"github.com/me/orchestra/pkg/model"
)

// ResourceLister lists selectable resources in a stable order.
type ResourceLister interface {
	List(tags ...string) []model.Resource
}

// HealthGate reports whether the backend pool as a whole is usable.
type HealthGate interface {
	Healthy() bool
}

// Engine chooses the resource a task runs on.
type Engine struct {
	resources ResourceLister
	gate      HealthGate
	chain     *Chain
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithChain replaces the default strategy chain.
func WithChain(c *Chain) Option {
	return func(e *Engine) { e.chain = c }
}

// WithMetrics counts selections.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over resources. A nil gate means always healthy.
func NewEngine(resources ResourceLister, gate HealthGate, affinity map[string][]string, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		resources: resources,
		gate:      gate,
		chain:     DefaultChain(affinity),
		logger:    logging.OrDiscard(logger).With("component", "selection"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Candidates returns the resources a task may run on right now. While the
// pool is unhealthy only pinned resources that are themselves available
// remain eligible.
func (e *Engine) Candidates() []model.Resource {
	all := e.resources.List()
	if e.gate == nil || e.gate.Healthy() {
		return all
	}
	out := all[:0]
	for _, r := range all {
		if r.Pinned {
			out = append(out, r)
		}
	}
	return out
}

// Select picks the resource for task and reports why.
func (e *Engine) Select(task model.Task) (model.Resource, string, error) {
	req := &Request{Task: task, Candidates: e.Candidates()}
	if len(req.Candidates) == 0 {
		return model.Resource{}, "", fmt.Errorf("select for %s: %w", task.TaskType, model.ErrNoResourceAvailable)
	}

	res, reason := e.chain.Select(req)
	if res == nil {
		return model.Resource{}, "", fmt.Errorf("select for %s (%s): %w", task.TaskType, reason, model.ErrNoResourceAvailable)
	}
	e.logger.Debug("resource selected",
		"task_ref", task.TaskRef, "task_type", task.TaskType, "priority", task.PriorityHint,
		"resource", res.Name, "reason", reason, "candidates", len(req.Candidates))
	e.metrics.RecordSelection(res.Name, reason)
	return *res, reason, nil
}
