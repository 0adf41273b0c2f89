package resource

import (
	"context"
	"fmt"

	"github.com/openfroyo/converge/pkg/telemetry"
)

// Unknown is the observed value of a state that has not been retrieved or
// whose resource does not exist.
const Unknown = -1

// Event is the symbol a state emits when its sync changed the system.
type Event string

const (
	// EventNone is returned when a sync changed nothing.
	EventNone Event = ""

	EventFileCreated  Event = "file_created"
	EventFileModified Event = "file_modified"
	EventInodeChanged Event = "inode_changed"
)

// State is the reconciliation unit for one attribute of a resource.
//
// Retrieve reads the current value into Is. InSync compares it with Should.
// Sync applies the change and returns the state's event, or EventNone when
// nothing had to change; calling Sync on an in-sync state never mutates.
type State interface {
	// Name is the attribute name.
	Name() string

	// Event is the symbol returned by a sync that changed something.
	Event() Event

	// SetShould normalizes and stores the desired value.
	SetShould(ctx context.Context, value interface{}) error

	// Should returns the normalized desired value, nil when unset.
	Should() interface{}

	// Is returns the observed value, or Unknown.
	Is() interface{}

	// Retrieve reads the observed value.
	Retrieve(ctx context.Context) error

	// InSync reports whether no sync is needed.
	InSync() bool

	// Sync makes the system match the desired value.
	Sync(ctx context.Context) (Event, error)

	// MarkUnknown resets the observed value to Unknown.
	MarkUnknown()
}

// base carries the non-owning back-reference to the resource.
type base struct {
	r *Resource
}

func (b base) log() *telemetry.Logger {
	return b.r.log
}

func (b base) path() string {
	return b.r.path
}

// ensureObserved implements the shared sync precondition: an unknown observed
// value forces a metadata refresh and re-retrieval, and a still-missing
// resource aborts the sync. It reports whether the sync may proceed.
func (b base) ensureObserved(ctx context.Context, s State, verb string) (bool, error) {
	if s.Is() == Unknown {
		b.r.Stat(ctx, true)
		if b.r.Stat(ctx, false) != nil {
			if err := s.Retrieve(ctx); err != nil {
				return false, err
			}
			b.log().Debugf("%s: after refresh, is '%v'", s.Name(), s.Is())
		}
	}
	if b.r.Stat(ctx, false) == nil {
		b.log().Errf("File '%s' does not exist; cannot %s", b.path(), verb)
		return false, nil
	}
	return true, nil
}

// Describe formats a state's desired and observed values for messages.
func Describe(s State) string {
	return fmt.Sprintf("%s: should %v, is %v", s.Name(), display(s.Should()), display(s.Is()))
}

func display(v interface{}) interface{} {
	if v == nil {
		return "(unset)"
	}
	if n, ok := v.(int); ok && n == Unknown {
		return "(unknown)"
	}
	return v
}
