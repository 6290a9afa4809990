package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/pkg/model"
)

// Registry owns the set of resources tasks can be dispatched to.
// All methods are safe for concurrent use and hand out copies.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*model.Resource
	order     []string // registration order, keeps listing stable
	logger    *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		resources: make(map[string]*model.Resource),
		logger:    logging.OrDiscard(logger).With("component", "registry"),
	}
}

// Register adds a resource. A loading resource is never available.
func (r *Registry) Register(res model.Resource) error {
	if res.Name == "" {
		return fmt.Errorf("register resource: name is required")
	}
	res = res.Clone()
	if res.Loading {
		res.Available = false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resources[res.Name]; ok {
		return fmt.Errorf("register resource %s: %w", res.Name, model.ErrDuplicateResource)
	}
	r.resources[res.Name] = &res
	r.order = append(r.order, res.Name)
	r.logger.Info("resource registered", "name", res.Name, "available", res.Available, "pinned", res.Pinned)
	return nil
}

// Get returns a copy of the named resource.
func (r *Registry) Get(name string) (model.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[name]
	if !ok {
		return model.Resource{}, fmt.Errorf("resource %s: %w", name, model.ErrResourceNotFound)
	}
	return res.Clone(), nil
}

// Has reports whether a resource with that name was ever registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resources[name]
	return ok
}

// List returns available resources carrying all of tags, in registration order.
func (r *Registry) List(tags ...string) []model.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Resource, 0, len(r.order))
	for _, name := range r.order {
		res := r.resources[name]
		if !res.Selectable() || !res.HasTags(tags...) {
			continue
		}
		out = append(out, res.Clone())
	}
	return out
}

// All returns every resource, including unavailable ones, in registration order.
func (r *Registry) All() []model.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Resource, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.resources[name].Clone())
	}
	return out
}

// MarkLoading flags a resource as provisioning. It stops being selectable.
func (r *Registry) MarkLoading(name string) error {
	return r.update(name, func(res *model.Resource) {
		res.Loading = true
		res.Available = false
	})
}

// MarkAvailable makes a resource selectable again.
func (r *Registry) MarkAvailable(name string) error {
	return r.update(name, func(res *model.Resource) {
		res.Loading = false
		res.Available = true
	})
}

// MarkUnavailable removes a resource from selection without deleting it, so
// existing history stays attributable.
func (r *Registry) MarkUnavailable(name string) error {
	return r.update(name, func(res *model.Resource) {
		res.Available = false
	})
}

// MarkError counts an error against the resource without touching its
// latency average.
func (r *Registry) MarkError(name string) error {
	return r.update(name, func(res *model.Resource) {
		res.Performance.ErrorCount++
	})
}

// RecordOutcome folds a dispatch outcome into the performance profile.
// health.Monitor.UpdateMetrics is its only caller.
func (r *Registry) RecordOutcome(name string, durationMs float64, success bool, at time.Time) error {
	return r.update(name, func(res *model.Resource) {
		res.Performance.Record(durationMs, success, at)
	})
}

func (r *Registry) update(name string, fn func(*model.Resource)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[name]
	if !ok {
		return fmt.Errorf("resource %s: %w", name, model.ErrResourceNotFound)
	}
	fn(res)
	return nil
}
