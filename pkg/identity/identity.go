// Package identity resolves symbolic user and group names to numeric ids.
package identity

import (
	"fmt"
	"strconv"
)

// DarwinFamily is the operating system whose group records keep the id in the
// passwd field instead of the gid field.
const DarwinFamily = "Darwin"

// User is a raw account record.
type User struct {
	Name string
	UID  string
}

// Group is a raw group record. Passwd is kept because some platforms expose
// the numeric id through it.
type Group struct {
	Name   string
	Passwd string
	GID    string
}

// Database looks up raw account records by name.
type Database interface {
	LookupUser(name string) (*User, error)
	LookupGroup(name string) (*Group, error)
}

// Resolver converts symbolic names to numeric ids.
type Resolver interface {
	ResolveUser(name string) (int, error)
	ResolveGroup(name, osFamily string) (int, error)
}

// UnknownUserError reports a user name that could not be resolved.
type UnknownUserError struct {
	Name string
	Err  error
}

func (e *UnknownUserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not get any info on user %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("could not get any info on user %q", e.Name)
}

func (e *UnknownUserError) Unwrap() error { return e.Err }

// UnknownGroupError reports a group name that could not be resolved.
type UnknownGroupError struct {
	Name string
	Err  error
}

func (e *UnknownGroupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not get any info on group %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("could not get any info on group %q", e.Name)
}

func (e *UnknownGroupError) Unwrap() error { return e.Err }

// DatabaseResolver resolves names through a Database.
type DatabaseResolver struct {
	db Database
}

var _ Resolver = (*DatabaseResolver)(nil)

// NewResolver creates a resolver backed by db.
func NewResolver(db Database) *DatabaseResolver {
	return &DatabaseResolver{db: db}
}

// ResolveUser returns the uid for name.
func (r *DatabaseResolver) ResolveUser(name string) (int, error) {
	u, err := r.db.LookupUser(name)
	if err != nil {
		return 0, &UnknownUserError{Name: name, Err: err}
	}
	if u.UID == "" {
		return 0, &UnknownUserError{Name: name, Err: fmt.Errorf("record has no uid")}
	}
	uid, err := strconv.Atoi(u.UID)
	if err != nil {
		return 0, &UnknownUserError{Name: name, Err: fmt.Errorf("invalid uid %q", u.UID)}
	}
	return uid, nil
}

// ResolveGroup returns the gid for name, reading it from the field the given
// operating system family uses.
func (r *DatabaseResolver) ResolveGroup(name, osFamily string) (int, error) {
	g, err := r.db.LookupGroup(name)
	if err != nil {
		return 0, &UnknownGroupError{Name: name, Err: err}
	}

	raw := GroupID(g, osFamily)
	if raw == "" {
		return 0, &UnknownGroupError{Name: name, Err: fmt.Errorf("could not retrieve gid on %s", familyOrUnknown(osFamily))}
	}
	gid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &UnknownGroupError{Name: name, Err: fmt.Errorf("invalid gid %q", raw)}
	}
	return gid, nil
}

// GroupID extracts the raw id from a group record for an OS family.
func GroupID(g *Group, osFamily string) string {
	if osFamily == DarwinFamily {
		return g.Passwd
	}
	return g.GID
}

func familyOrUnknown(family string) string {
	if family == "" {
		return "unknown OS"
	}
	return family
}
