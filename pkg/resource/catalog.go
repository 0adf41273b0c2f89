package resource

import (
	"fmt"
	"sync"
)

// Catalog indexes resources by path. Recursion consults it so that a path
// already under management is updated instead of declared twice.
type Catalog struct {
	mu     sync.RWMutex
	byPath map[string]*Resource
	order  []*Resource
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byPath: make(map[string]*Resource)}
}

// Lookup returns the resource managing path.
func (c *Catalog) Lookup(path string) (*Resource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byPath[path]
	return r, ok
}

// add registers r. A path can be registered once.
func (c *Catalog) add(r *Resource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byPath[r.path]; exists {
		return NewConfigurationError(r.path, ParamPath, r.path, fmt.Errorf("resource already declared"))
	}
	c.byPath[r.path] = r
	c.order = append(c.order, r)
	return nil
}

// Resources returns every registered resource in registration order.
func (c *Catalog) Resources() []*Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Resource, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of registered resources.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
