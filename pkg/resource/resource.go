// Package resource implements the reconciliation core for file-or-directory
// resources: the per-attribute states, their retrieve/compare/sync contract,
// directory recursion and checksum drift memoization.
package resource

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/converge/pkg/facts"
	"github.com/openfroyo/converge/pkg/fsys"
	"github.com/openfroyo/converge/pkg/identity"
	"github.com/openfroyo/converge/pkg/source"
	"github.com/openfroyo/converge/pkg/stores"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// Environment holds the collaborators resources reconcile against.
type Environment struct {
	// FS is the filesystem layer. Required.
	FS fsys.FS

	// Identity resolves symbolic owners and groups.
	Identity identity.Resolver

	// Facts provides the operating system family for group resolution.
	Facts facts.Provider

	// Memo stores checksums across runs. Required by checksum states.
	Memo stores.ChecksumStore

	// Sources is consulted for the source parameter. Defaults to source.Default.
	Sources *source.Registry

	// Catalog indexes resources by path. Optional.
	Catalog *Catalog

	// Logger receives resource messages. Defaults to a no-op logger.
	Logger *telemetry.Logger

	// Tracer traces state syncs. Optional.
	Tracer *telemetry.Tracer
}

// Resource is a file or directory with an ordered set of states.
type Resource struct {
	schema   *Schema
	env      *Environment
	path     string
	params   Params
	depth    Depth
	source   *source.Source
	states   []State
	stat     *StatCache
	children []*Resource
	log      *telemetry.Logger
}

// New builds a file resource from params and registers it in the catalog.
// When recursion is enabled and the path is a directory, children are created
// or updated immediately.
func New(ctx context.Context, env *Environment, params Params) (*Resource, error) {
	return newResource(ctx, env, FileSchema, params)
}

func newResource(ctx context.Context, env *Environment, schema *Schema, params Params) (*Resource, error) {
	if env == nil || env.FS == nil {
		return nil, NewConfigurationError("", "", nil, fmt.Errorf("environment without filesystem"))
	}
	if env.Logger == nil {
		env.Logger = telemetry.NewNopLogger()
	}
	if env.Sources == nil {
		env.Sources = source.Default
	}

	raw, ok := params[schema.Namevar()]
	if !ok {
		return nil, NewConfigurationError("", schema.Namevar(), nil, fmt.Errorf("%s is required", schema.Namevar()))
	}
	path, ok := raw.(string)
	if !ok || path == "" {
		return nil, NewConfigurationError("", schema.Namevar(), raw, fmt.Errorf("%s must be a non-empty string", schema.Namevar()))
	}
	if !filepath.IsAbs(path) {
		return nil, NewConfigurationError(path, schema.Namevar(), raw, fmt.Errorf("%s must be absolute", schema.Namevar()))
	}
	path = filepath.Clean(path)

	r := &Resource{
		schema: schema,
		env:    env,
		path:   path,
		params: Params{schema.Namevar(): path},
		log:    env.Logger.WithSource(fmt.Sprintf("%s[%s]", schema.Kind(), path)),
	}
	r.stat = newStatCache(env.FS, path, r.log)

	if err := r.Update(ctx, params); err != nil {
		return nil, err
	}

	if env.Catalog != nil {
		if err := env.Catalog.add(r); err != nil {
			return nil, err
		}
	}

	if err := r.expand(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// keyOrder sorts parameters before states and states in schema order.
func (r *Resource) keyOrder(key string) int {
	if r.schema.IsState(key) {
		return len(r.schema.parameters) + r.schema.order(key)
	}
	for i, p := range r.schema.parameters {
		if p == key {
			return i
		}
	}
	return -1
}

// Set assigns one parameter or desired attribute value. Unknown keys are
// configuration errors.
func (r *Resource) Set(ctx context.Context, key string, value interface{}) error {
	switch {
	case key == r.schema.Namevar():
		return NewConfigurationError(r.path, key, value, fmt.Errorf("%s cannot be changed", key))

	case key == ParamRecurse:
		depth, err := ParseDepth(value)
		if err != nil {
			return NewConfigurationError(r.path, key, value, err)
		}
		r.depth = depth

	case key == ParamSource:
		name, ok := value.(string)
		if !ok || name == "" {
			return NewConfigurationError(r.path, key, value, fmt.Errorf("source must be a name"))
		}
		src, found := r.env.Sources.Lookup(name)
		if !found {
			return NewConfigurationError(r.path, key, value, fmt.Errorf("no source named %q", name))
		}
		r.source = src

	case r.schema.IsState(key):
		state := r.State(key)
		if state == nil {
			state = r.addState(key)
		}
		if err := state.SetShould(ctx, value); err != nil {
			return err
		}
		r.linkModeBits()

	default:
		return NewConfigurationError(r.path, key, value, fmt.Errorf("unknown parameter %q for %s", key, r.schema.Kind()))
	}

	r.params[key] = value
	return nil
}

// Update sets every key of params except the path, parameters first and
// states in schema order.
func (r *Resource) Update(ctx context.Context, params Params) error {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key != r.schema.Namevar() {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return r.keyOrder(keys[i]) < r.keyOrder(keys[j]) })

	for _, key := range keys {
		if err := r.Set(ctx, key, params[key]); err != nil {
			return err
		}
	}
	return nil
}

// addState creates the named state and keeps the state list in schema order.
func (r *Resource) addState(name string) State {
	spec := r.schema.states[r.schema.order(name)]
	state := spec.newState(r)
	r.states = append(r.states, state)
	sort.SliceStable(r.states, func(i, j int) bool {
		return r.schema.order(r.states[i].Name()) < r.schema.order(r.states[j].Name())
	})
	return state
}

// linkModeBits connects a setuid state to the permissions state whose bit it
// edits, creating a permissions state without a desired mode when needed.
func (r *Resource) linkModeBits() {
	sub, ok := r.State(AttrSetUID).(*SetUID)
	if !ok {
		return
	}
	perms, ok := r.State(AttrMode).(*Permissions)
	if !ok {
		perms = r.addState(AttrMode).(*Permissions)
	}
	sub.perms = perms
	if sub.set && perms.should != Unknown {
		perms.SetBit(SetUIDBit, sub.should)
	}
}

// Path returns the resource path.
func (r *Resource) Path() string { return r.path }

// Kind returns the resource kind.
func (r *Resource) Kind() string { return r.schema.Kind() }

// Schema returns the resource's schema.
func (r *Resource) Schema() *Schema { return r.schema }

// Params returns a copy of the normalized parameter set.
func (r *Resource) Params() Params { return r.params.Clone() }

// Depth returns the recursion depth.
func (r *Resource) Depth() Depth { return r.depth }

// Source returns the named content source, if any.
func (r *Resource) Source() *source.Source { return r.source }

// Logger returns the resource's logger.
func (r *Resource) Logger() *telemetry.Logger { return r.log }

// States returns the states in sync order.
func (r *Resource) States() []State {
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

// State returns the named state, or nil.
func (r *Resource) State(name string) State {
	for _, s := range r.states {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Stat returns the cached metadata, fetching it when missing or when refresh
// is set. A nil result means the path is absent or unreadable.
func (r *Resource) Stat(_ context.Context, refresh bool) *fsys.Info {
	return r.stat.Get(refresh)
}

// Retrieve refreshes the metadata and retrieves every state. When the path
// does not exist every state is marked unknown and nothing else is read.
func (r *Resource) Retrieve(ctx context.Context) error {
	if r.Stat(ctx, true) == nil {
		r.markUnknown()
		return nil
	}
	var errs []error
	for _, s := range r.states {
		if err := s.Retrieve(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Resource) markUnknown() {
	r.log.Debugf("File %s does not exist", r.path)
	for _, s := range r.states {
		s.MarkUnknown()
	}
}

// Change records one state that was out of sync during an evaluation.
type Change struct {
	Attribute string
	Should    interface{}
	Is        interface{}
	Event     Event
	Err       error
}

// Outcome is the result of one evaluation of a resource.
type Outcome struct {
	Path string

	// Absent is set when the path did not exist at the start of the pass.
	Absent bool

	// Changes lists every out-of-sync state, in sync order.
	Changes []Change
}

// Events returns the changes that emitted an event.
func (o *Outcome) Events() []Change {
	var out []Change
	for _, c := range o.Changes {
		if c.Event != EventNone && c.Err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Failed reports whether any change failed.
func (o *Outcome) Failed() bool {
	for _, c := range o.Changes {
		if c.Err != nil {
			return true
		}
	}
	return false
}

// Evaluate runs one retrieve, compare and sync pass. States are handled in
// schema order and a failing state does not stop the others; the returned
// error joins every failure.
//
// An absent path syncs nothing unless the create attribute asserts it, in
// which case the file is created first and the remaining states are then
// retrieved and synced in the same pass.
func (r *Resource) Evaluate(ctx context.Context) (*Outcome, error) {
	return r.evaluate(ctx, true)
}

// Check retrieves and compares without syncing. The outcome lists the states
// that would sync.
func (r *Resource) Check(ctx context.Context) (*Outcome, error) {
	return r.evaluate(ctx, false)
}

func (r *Resource) evaluate(ctx context.Context, apply bool) (*Outcome, error) {
	out := &Outcome{Path: r.path}
	var errs []error

	if r.Stat(ctx, true) == nil {
		r.markUnknown()
		out.Absent = true

		exists, ok := r.State(AttrCreate).(*Existence)
		if !ok || !exists.Asserted() {
			return out, nil
		}
		if err := exists.Retrieve(ctx); err != nil {
			return out, err
		}
		change := Change{Attribute: AttrCreate, Should: exists.Should(), Is: exists.Is()}
		if !apply {
			out.Changes = append(out.Changes, change)
			return out, nil
		}
		change.Event, change.Err = r.sync(ctx, exists)
		out.Changes = append(out.Changes, change)
		if change.Err != nil {
			return out, change.Err
		}
		if r.Stat(ctx, true) == nil {
			r.log.Errf("File %s still does not exist after creation", r.path)
			return out, nil
		}
	}

	failed := make(map[State]bool)
	for _, s := range r.states {
		if err := s.Retrieve(ctx); err != nil {
			failed[s] = true
			errs = append(errs, err)
			out.Changes = append(out.Changes, Change{Attribute: s.Name(), Should: s.Should(), Is: s.Is(), Err: err})
		}
	}

	for _, s := range r.states {
		if failed[s] || s.InSync() {
			continue
		}
		change := Change{Attribute: s.Name(), Should: s.Should(), Is: s.Is()}
		if apply {
			change.Event, change.Err = r.sync(ctx, s)
			if change.Err != nil {
				errs = append(errs, change.Err)
			}
		}
		out.Changes = append(out.Changes, change)
	}

	return out, errors.Join(errs...)
}

func (r *Resource) sync(ctx context.Context, s State) (Event, error) {
	syncCtx := ctx
	var span trace.Span
	if r.env.Tracer != nil {
		syncCtx, span = r.env.Tracer.StartSyncSpan(ctx, r.path, s.Name())
	}

	ev, err := s.Sync(syncCtx)

	if span != nil {
		span.SetAttributes(telemetry.AttrEvent.String(string(ev)))
		telemetry.EndSpan(span, err)
	}
	return r.logSync(s, ev, err)
}

func (r *Resource) logSync(s State, ev Event, err error) (Event, error) {
	switch {
	case err != nil:
		r.log.Errf("%s failed: %v", s.Name(), err)
	case ev != EventNone:
		r.log.Noticef("%s changed (%s)", s.Name(), ev)
	}
	return ev, err
}
