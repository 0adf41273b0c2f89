package resource

import "context"

// Existence manages whether the path exists. Any desired value other than
// false or nil asserts that it must exist; it never removes anything.
type Existence struct {
	base
	should bool
	is     int
}

func newExistence(r *Resource) State {
	return &Existence{base: base{r: r}, is: Unknown}
}

func (e *Existence) Name() string { return AttrCreate }

func (e *Existence) Event() Event { return EventFileCreated }

// SetShould coerces value: false and nil disable the assertion, anything else
// enables it.
func (e *Existence) SetShould(_ context.Context, value interface{}) error {
	switch v := value.(type) {
	case nil:
		e.should = false
	case bool:
		e.should = v
	default:
		e.should = true
	}
	return nil
}

// Asserted reports whether the path must exist.
func (e *Existence) Asserted() bool { return e.should }

func (e *Existence) Should() interface{} { return e.should }

func (e *Existence) Is() interface{} {
	if e.is == Unknown {
		return Unknown
	}
	return e.is == 1
}

func (e *Existence) Retrieve(ctx context.Context) error {
	e.is = 0
	if e.r.Stat(ctx, false) != nil {
		e.is = 1
	}
	e.log().Debugf("'exists' state is %v", e.Is())
	return nil
}

func (e *Existence) InSync() bool {
	return !e.should || e.is == 1
}

// Sync creates an empty file. Content, mode and ownership are left to the
// other states.
func (e *Existence) Sync(ctx context.Context) (Event, error) {
	if e.is == Unknown {
		if err := e.Retrieve(ctx); err != nil {
			return EventNone, err
		}
	}
	if e.InSync() {
		return EventNone, nil
	}

	if err := e.r.env.FS.CreateEmpty(e.path()); err != nil {
		return EventNone, NewMutationError(e.path(), AttrCreate, true, err, "create file")
	}
	e.r.stat.Invalidate()
	e.is = 1
	return EventFileCreated, nil
}

func (e *Existence) MarkUnknown() { e.is = Unknown }
