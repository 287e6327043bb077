package engine

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// Registry maps processor names to constructors. It is populated once at
// startup from the static processor list and is read-only afterwards.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]func() Processor
	logger       *log.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]func() Processor),
		logger:       log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags),
	}
}

// Register adds a processor constructor under the name its instances
// report. A duplicate name overwrites the previous registration with a
// warning; an empty name is ignored.
func (r *Registry) Register(ctor func() Processor) {
	name := ctor().Name()
	if name == "" {
		r.logger.Printf("⚠️  skipping processor with empty name")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[name]; exists {
		r.logger.Printf("⚠️  duplicate processor %q overwrites previous registration", name)
	}
	r.constructors[name] = ctor
}

// New instantiates the processor registered under name.
func (r *Registry) New(name string) (Processor, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("processor %q is not registered", name)
	}
	return ctor(), nil
}

// Names lists registered processor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered processors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.constructors)
}
