package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/me/orchestra/pkg/model"
)

// Catalog maps task refs to their definitions.
type Catalog struct {
	mu    sync.RWMutex
	tasks map[string]model.TaskDefinition
}

// NewCatalog creates a catalog holding defs. It fails on the first invalid
// or duplicate definition.
func NewCatalog(defs ...model.TaskDefinition) (*Catalog, error) {
	c := &Catalog{tasks: make(map[string]model.TaskDefinition, len(defs))}
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a task definition.
func (c *Catalog) Register(def model.TaskDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tasks[def.Ref]; ok {
		return fmt.Errorf("task %s already registered", def.Ref)
	}
	c.tasks[def.Ref] = def
	return nil
}

// Get looks up a definition by ref.
func (c *Catalog) Get(ref string) (model.TaskDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.tasks[ref]
	if !ok {
		return model.TaskDefinition{}, fmt.Errorf("task %q: %w", ref, model.ErrUnknownTask)
	}
	return def, nil
}

// List returns all definitions sorted by ref.
func (c *Catalog) List() []model.TaskDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.TaskDefinition, 0, len(c.tasks))
	for _, d := range c.tasks {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}
