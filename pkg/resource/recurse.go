package resource

import (
	"context"
	"path/filepath"
)

// expand creates or updates one child resource per directory entry. Children
// receive the parent's parameters with the path replaced and the depth
// decremented.
func (r *Resource) expand(ctx context.Context) error {
	if !r.depth.Expands() {
		return nil
	}
	info := r.Stat(ctx, false)
	if !info.IsDir() {
		return nil
	}

	names, err := r.env.FS.ListEntries(r.path)
	if err != nil {
		r.log.Errf("Could not list %s: %v", r.path, err)
		return nil
	}

	childParams := r.params.Clone()
	childParams[ParamRecurse] = r.depth.Next().Value()

	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		childPath := filepath.Join(r.path, name)

		if existing, ok := r.lookup(childPath); ok {
			if err := existing.Update(ctx, childParams); err != nil {
				return err
			}
			r.children = append(r.children, existing)
			continue
		}

		p := childParams.Clone()
		p[ParamPath] = childPath
		child, err := newResource(ctx, r.env, r.schema, p)
		if err != nil {
			return err
		}
		r.children = append(r.children, child)
	}
	return nil
}

func (r *Resource) lookup(path string) (*Resource, bool) {
	if r.env.Catalog == nil {
		return nil, false
	}
	return r.env.Catalog.Lookup(path)
}

// Children returns the child resources produced by recursion.
func (r *Resource) Children() []*Resource {
	out := make([]*Resource, len(r.children))
	copy(out, r.children)
	return out
}

// Walk calls fn for r and then, depth first, for every descendant. A
// resource reachable through more than one parent is visited once.
func (r *Resource) Walk(fn func(*Resource) error) error {
	seen := make(map[*Resource]bool)
	var walk func(*Resource) error
	walk = func(n *Resource) error {
		if seen[n] {
			return nil
		}
		seen[n] = true
		if err := fn(n); err != nil {
			return err
		}
		for _, c := range n.children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(r)
}
