package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a node instance with the given name.
type Factory func(name string) (Node, error)

// Registry maps node type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a type twice panics.
func (r *Registry) Register(typeName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeName]; exists {
		panic(fmt.Sprintf("pipeline: node type %q registered twice", typeName))
	}
	r.factories[typeName] = factory
}

// Create instantiates a node. Unknown types and factory failures are
// reported as errors; a nil node is never returned with a nil error.
func (r *Registry) Create(typeName, name string) (Node, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, typeName)
	}

	node, err := factory(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrNodeCreation, typeName, name, err)
	}
	if node == nil {
		return nil, fmt.Errorf("%w: %s %q returned nil", ErrNodeCreation, typeName, name)
	}
	return node, nil
}

func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeName]
	return ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
