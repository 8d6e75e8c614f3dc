package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured backends by name.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds a backend. Registering the same name twice is an error.
func (r *Registry) Register(runner Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := runner.Name()
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if _, exists := r.runners[name]; exists {
		return fmt.Errorf("agent %s is already registered", name)
	}
	r.runners[name] = runner
	return nil
}

// Get returns the backend with the given name.
func (r *Registry) Get(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %s (registered: %v)", name, r.names())
	}
	return runner, nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
