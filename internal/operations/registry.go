package operations

import (
	"fmt"
	"sync"
)

// Registry holds the pipeline stages in registration order.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
	order []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]Step),
		order: make([]string, 0),
	}
}

// Register adds a stage to the registry
func (r *Registry) Register(step Step) error {
	if step == nil {
		return fmt.Errorf("cannot register nil stage")
	}

	id := step.ID()
	if id == "" {
		return fmt.Errorf("stage ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[id]; exists {
		return fmt.Errorf("stage %s already registered", id)
	}

	r.steps[id] = step
	r.order = append(r.order, id)
	return nil
}

// Unregister removes a stage from the registry
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[id]; !exists {
		return fmt.Errorf("stage %s not found", id)
	}

	delete(r.steps, id)

	// Remove from order slice
	newOrder := make([]string, 0, len(r.order)-1)
	for _, stageID := range r.order {
		if stageID != id {
			newOrder = append(newOrder, stageID)
		}
	}
	r.order = newOrder

	return nil
}

// Get retrieves a stage by ID
func (r *Registry) Get(id string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, exists := r.steps[id]
	if !exists {
		return nil, fmt.Errorf("stage %s not found", id)
	}

	return step, nil
}

// Has checks if a stage is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.steps[id]
	return exists
}

// List returns all registered steps in registration order
func (r *Registry) List() []Step {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]Step, 0, len(r.order))
	for _, id := range r.order {
		if step, exists := r.steps[id]; exists {
			steps = append(steps, step)
		}
	}

	return steps
}

// ListIDs returns all registered stage IDs in registration order
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Count returns the number of registered steps
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.steps)
}

// Clear removes all registered steps
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.steps = make(map[string]Step)
	r.order = make([]string, 0)
}

// GetDependencyOrder returns steps ordered by dependencies
func (r *Registry) GetDependencyOrder() ([]Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Build dependency graph
	graph := make(map[string][]string)
	inDegree := make(map[string]int)

	// Initialize
	for id := range r.steps {
		graph[id] = []string{}
		inDegree[id] = 0
	}

	// Build graph and calculate in-degrees
	for id, step := range r.steps {
		deps := step.GetDependencies()
		for _, dep := range deps {
			if _, exists := r.steps[dep]; !exists {
				return nil, fmt.Errorf("stage %s depends on unknown stage %s", id, dep)
			}
			graph[dep] = append(graph[dep], id)
			inDegree[id]++
		}
	}

	// Topological sort using Kahn's algorithm
	// Use registration order for steps with same priority
	queue := make([]string, 0)
	for _, id := range r.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	ordered := make([]Step, 0, len(r.steps))
	processed := 0

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		ordered = append(ordered, r.steps[current])
		processed++

		// Reduce in-degree for dependent steps
		// Collect newly available steps
		newAvailable := make([]string, 0)
		for _, dependent := range graph[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				newAvailable = append(newAvailable, dependent)
			}
		}

		// Newly available stages join the queue in registration order.
		ready := make(map[string]bool, len(newAvailable))
		for _, id := range newAvailable {
			ready[id] = true
		}
		for _, id := range r.order {
			if ready[id] {
				queue = append(queue, id)
			}
		}
	}

	// Check for cycles
	if processed != len(r.steps) {
		return nil, fmt.Errorf("dependency cycle detected")
	}

	return ordered, nil
}

// ValidateDependencies checks if all stage dependencies are satisfied
func (r *Registry) ValidateDependencies() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, step := range r.steps {
		deps := step.GetDependencies()
		for _, dep := range deps {
			if _, exists := r.steps[dep]; !exists {
				return fmt.Errorf("stage %s depends on unknown stage %s", id, dep)
			}
		}
	}

	// Check for cycles
	_, err := r.GetDependencyOrder()
	return err
}

// GetDependents returns steps that depend on the given stage
func (r *Registry) GetDependents(stageID string) []Step {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dependents := make([]Step, 0)
	for _, id := range r.order {
		step := r.steps[id]
		for _, dep := range step.GetDependencies() {
			if dep == stageID {
				dependents = append(dependents, step)
				break
			}
		}
	}

	return dependents
}

// Clone creates a copy of the registry
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := NewRegistry()
	for _, id := range r.order {
		if step, exists := r.steps[id]; exists {
			clone.steps[id] = step
			clone.order = append(clone.order, id)
		}
	}

	return clone
}