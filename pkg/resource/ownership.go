package resource

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/converge/pkg/facts"
	"github.com/openfroyo/converge/pkg/fsys"
)

// ownership is shared by Owner and Group. The desired value is either a
// numeric id or a symbolic name that is resolved on retrieval.
type ownership struct {
	base
	name   string
	should int
	symbol string
	set    bool
	is     int
}

func (o *ownership) Name() string { return o.name }

func (o *ownership) Event() Event { return EventInodeChanged }

func (o *ownership) SetShould(_ context.Context, value interface{}) error {
	o.symbol = ""
	o.should = Unknown
	o.set = true

	if n, ok := toInt(value); ok {
		if n < 0 {
			return NewConfigurationError(o.path(), o.name, value, fmt.Errorf("id must not be negative"))
		}
		o.should = n
		return nil
	}

	s, ok := value.(string)
	if !ok {
		return NewConfigurationError(o.path(), o.name, value, fmt.Errorf("expected a name or numeric id, got %T", value))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return NewConfigurationError(o.path(), o.name, value, fmt.Errorf("empty name"))
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		o.should = n
		return nil
	}
	o.symbol = s
	return nil
}

func (o *ownership) Should() interface{} {
	if !o.set {
		return nil
	}
	if o.symbol != "" {
		return o.symbol
	}
	return o.should
}

func (o *ownership) Is() interface{} { return o.is }

func (o *ownership) InSync() bool {
	return !o.set || (o.symbol == "" && o.is != Unknown && o.is == o.should)
}

func (o *ownership) MarkUnknown() { o.is = Unknown }

func (o *ownership) observe(ctx context.Context, id func(*fsys.Info) int, resolve func(string) (int, error)) error {
	info := o.r.Stat(ctx, false)
	if info == nil {
		o.is = Unknown
		return nil
	}
	o.is = id(info)

	if o.symbol != "" {
		n, err := resolve(o.symbol)
		if err != nil {
			return NewResolutionError(o.path(), o.name, o.symbol, err)
		}
		o.log().Debugf("converting %s to integer '%d'", o.symbol, n)
		o.should = n
		o.symbol = ""
	}

	o.log().Debugf("%s state is %d", o.name, o.is)
	return nil
}

// apply chowns the half of the owner/group pair this state manages and
// passes fsys.Unchanged for the other.
func (o *ownership) apply(ctx context.Context, s State, ownerHalf bool) (Event, error) {
	ok, err := o.ensureObserved(ctx, s, "chown")
	if err != nil || !ok {
		return EventNone, err
	}
	if o.symbol != "" {
		if err := s.Retrieve(ctx); err != nil {
			return EventNone, err
		}
	}
	if o.InSync() {
		return EventNone, nil
	}

	uid, gid := o.should, fsys.Unchanged
	if !ownerHalf {
		uid, gid = fsys.Unchanged, o.should
	}
	if err := o.r.env.FS.Chown(o.path(), uid, gid); err != nil {
		return EventNone, NewMutationError(o.path(), o.name, o.should, err, "chown")
	}
	o.r.stat.Invalidate()
	o.is = o.should
	return EventInodeChanged, nil
}

// Owner manages the owning user id.
type Owner struct {
	ownership
}

func newOwner(r *Resource) State {
	return &Owner{ownership{base: base{r: r}, name: AttrOwner, should: Unknown, is: Unknown}}
}

func (o *Owner) Retrieve(ctx context.Context) error {
	return o.observe(ctx,
		func(info *fsys.Info) int { return info.UID },
		func(name string) (int, error) {
			if o.r.env.Identity == nil {
				return 0, fmt.Errorf("no identity resolver configured")
			}
			return o.r.env.Identity.ResolveUser(name)
		})
}

// Sync changes the owner and leaves the group alone.
func (o *Owner) Sync(ctx context.Context) (Event, error) {
	return o.apply(ctx, o, true)
}

// Group manages the owning group id. Symbolic names are resolved with the
// host's operating system family, since Darwin reports the id in a different
// group database field.
type Group struct {
	ownership
}

func newGroup(r *Resource) State {
	return &Group{ownership{base: base{r: r}, name: AttrGroup, should: Unknown, is: Unknown}}
}

func (g *Group) Retrieve(ctx context.Context) error {
	return g.observe(ctx,
		func(info *fsys.Info) int { return info.GID },
		func(name string) (int, error) {
			if g.r.env.Identity == nil {
				return 0, fmt.Errorf("no identity resolver configured")
			}
			return g.r.env.Identity.ResolveGroup(name, g.osFamily())
		})
}

func (g *Group) osFamily() string {
	if g.r.env.Facts == nil {
		return ""
	}
	family, err := g.r.env.Facts.Get(facts.OperatingSystem)
	if err != nil {
		g.log().Debugf("could not determine operating system: %v", err)
		return ""
	}
	return family
}

// Sync changes the group and leaves the owner alone.
func (g *Group) Sync(ctx context.Context) (Event, error) {
	g.log().Debugf("setting chgrp state to %v", g.Should())
	return g.apply(ctx, g, false)
}
