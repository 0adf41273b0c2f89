// Package source keeps the named content-source definitions that resources
// refer to instead of carrying content inline.
package source

import (
	"sort"
	"sync"
)

// Source describes where managed content comes from. The registry treats it
// as opaque.
type Source struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Location    string `json:"location" yaml:"location" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Registry maps names to sources. The zero value is ready to use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

// Default is the process-wide registry.
var Default = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*Source)}
}

// Register stores src under name, replacing any earlier entry.
func (r *Registry) Register(name string, src *Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sources == nil {
		r.sources = make(map[string]*Source)
	}
	r.sources[name] = src
}

// Lookup returns the source registered under name.
func (r *Registry) Lookup(name string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
