package resource

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/converge/pkg/fsys"
)

// SetUIDBit is the bit position of the set-user-id flag in a mode.
const SetUIDBit = 11

// Permissions manages the permission and special bits of the path.
type Permissions struct {
	base
	should int
	is     int
}

func newPermissions(r *Resource) State {
	return &Permissions{base: base{r: r}, should: Unknown, is: Unknown}
}

func (p *Permissions) Name() string { return AttrMode }

func (p *Permissions) Event() Event { return EventInodeChanged }

// ParseMode normalizes a mode value. Strings are read as octal, with or
// without a leading 0 or 0o; integers are taken as already holding the
// mode bits.
func ParseMode(value interface{}) (int, error) {
	if n, ok := toInt(value); ok {
		if n < 0 || uint32(n)&^fsys.PermMask != 0 {
			return 0, fmt.Errorf("mode %o out of range", n)
		}
		return n, nil
	}

	s, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("expected an octal string or integer, got %T", value)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty mode")
	}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'o' || s[1] == 'O') {
		s = s[2:]
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", value)
	}
	if uint32(n)&^fsys.PermMask != 0 {
		return 0, fmt.Errorf("mode %q out of range", value)
	}
	return int(n), nil
}

func (p *Permissions) SetShould(_ context.Context, value interface{}) error {
	mode, err := ParseMode(value)
	if err != nil {
		return NewConfigurationError(p.path(), AttrMode, value, err)
	}
	p.should = mode
	return nil
}

func (p *Permissions) Should() interface{} {
	if p.should == Unknown {
		return nil
	}
	return p.should
}

func (p *Permissions) Is() interface{} { return p.is }

func (p *Permissions) Retrieve(ctx context.Context) error {
	info := p.r.Stat(ctx, false)
	if info == nil {
		p.is = Unknown
		return nil
	}
	p.is = int(info.Mode & fsys.PermMask)
	p.log().Debugf("chmod state is %o", p.is)
	return nil
}

// InSync is true when no mode is desired or the observed mode matches.
func (p *Permissions) InSync() bool {
	return p.should == Unknown || (p.is != Unknown && p.is == p.should)
}

// Tracked is the mode value this state reconciles: the desired mode when
// set, otherwise the observed one.
func (p *Permissions) Tracked() int {
	if p.should != Unknown {
		return p.should
	}
	return p.is
}

// Bit reports bit i of the tracked value.
func (p *Permissions) Bit(i int) bool {
	t := p.Tracked()
	if t == Unknown {
		return false
	}
	return t&(1<<uint(i)) != 0
}

// SetBit sets or clears bit i of the tracked value, leaving every other bit
// as it is. Without a desired mode, the observed mode becomes the desired
// one first.
func (p *Permissions) SetBit(i int, on bool) {
	if p.should == Unknown {
		p.should = p.is
		if p.should == Unknown {
			p.should = 0
		}
	}
	if on {
		p.should |= 1 << uint(i)
	} else {
		p.should &^= 1 << uint(i)
	}
}

func (p *Permissions) Sync(ctx context.Context) (Event, error) {
	ok, err := p.ensureObserved(ctx, p, "chmod")
	if err != nil || !ok {
		return EventNone, err
	}
	if p.InSync() {
		return EventNone, nil
	}

	if err := p.r.env.FS.Chmod(p.path(), uint32(p.should)); err != nil {
		return EventNone, NewMutationError(p.path(), AttrMode, fmt.Sprintf("%04o", p.should), err, "chmod")
	}
	p.r.stat.Invalidate()
	p.is = p.should
	return EventInodeChanged, nil
}

func (p *Permissions) MarkUnknown() { p.is = Unknown }

// SetUID manages the set-user-id bit. It owns no mode of its own: it edits
// bit SetUIDBit of the resource's Permissions state through its accessors.
type SetUID struct {
	base
	perms  *Permissions
	should bool
	set    bool
	is     int
}

func newSetUID(r *Resource) State {
	return &SetUID{base: base{r: r}, is: Unknown}
}

func (s *SetUID) Name() string { return AttrSetUID }

func (s *SetUID) Event() Event { return EventInodeChanged }

func (s *SetUID) SetShould(_ context.Context, value interface{}) error {
	on, err := toBool(value)
	if err != nil {
		return NewConfigurationError(s.path(), AttrSetUID, value, err)
	}
	s.should = on
	s.set = true
	return nil
}

func (s *SetUID) Should() interface{} {
	if !s.set {
		return nil
	}
	return s.should
}

func (s *SetUID) Is() interface{} {
	if s.is == Unknown {
		return Unknown
	}
	return s.is == 1
}

// Retrieve reads the live bit from the resource metadata.
func (s *SetUID) Retrieve(ctx context.Context) error {
	info := s.r.Stat(ctx, false)
	if info == nil {
		s.is = Unknown
		return nil
	}
	s.is = 0
	if info.Mode&(1<<SetUIDBit) != 0 {
		s.is = 1
	}
	return nil
}

func (s *SetUID) InSync() bool {
	return !s.set || (s.is != Unknown && (s.is == 1) == s.should)
}

// Compare orders the live bit against the tracked bit of the Permissions
// state: -1 when the live bit is clear and the tracked bit set, 1 for the
// reverse and 0 when they agree.
func (s *SetUID) Compare() int {
	live := s.is == 1
	tracked := s.perms.Bit(SetUIDBit)
	switch {
	case live == tracked:
		return 0
	case tracked:
		return -1
	default:
		return 1
	}
}

// Sync writes the desired bit into the Permissions state and applies the
// resulting mode.
func (s *SetUID) Sync(ctx context.Context) (Event, error) {
	ok, err := s.ensureObserved(ctx, s, "chmod")
	if err != nil || !ok {
		return EventNone, err
	}
	if s.InSync() {
		return EventNone, nil
	}

	if s.perms.is == Unknown {
		if err := s.perms.Retrieve(ctx); err != nil {
			return EventNone, err
		}
	}
	s.perms.SetBit(SetUIDBit, s.should)
	if _, err := s.perms.Sync(ctx); err != nil {
		return EventNone, err
	}

	s.is = 0
	if s.should {
		s.is = 1
	}
	return EventInodeChanged, nil
}

func (s *SetUID) MarkUnknown() { s.is = Unknown }
