package identity

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
)

// ErrNotFound is returned by databases that have no record for a name.
var ErrNotFound = errors.New("no such entry")

// FilesDatabase reads colon-separated passwd and group files, falling back to
// the system's name service when a name is not listed there.
type FilesDatabase struct {
	PasswdPath string
	GroupPath  string

	// DisableFallback skips the name-service lookup.
	DisableFallback bool
}

// NewFilesDatabase returns a database reading /etc/passwd and /etc/group.
func NewFilesDatabase() *FilesDatabase {
	return &FilesDatabase{
		PasswdPath: "/etc/passwd",
		GroupPath:  "/etc/group",
	}
}

// LookupUser finds a user record by name.
func (d *FilesDatabase) LookupUser(name string) (*User, error) {
	fields, err := findRecord(d.PasswdPath, name, 3)
	if err == nil {
		return &User{Name: fields[0], UID: fields[2]}, nil
	}
	if !errors.Is(err, ErrNotFound) || d.DisableFallback {
		return nil, err
	}

	u, err := user.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &User{Name: u.Username, UID: u.Uid}, nil
}

// LookupGroup finds a group record by name.
func (d *FilesDatabase) LookupGroup(name string) (*Group, error) {
	fields, err := findRecord(d.GroupPath, name, 3)
	if err == nil {
		return &Group{Name: fields[0], Passwd: fields[1], GID: fields[2]}, nil
	}
	if !errors.Is(err, ErrNotFound) || d.DisableFallback {
		return nil, err
	}

	g, err := user.LookupGroup(name)
	if err != nil {
		return nil, err
	}
	// The name service only exposes the gid, so it stands in for both fields.
	return &Group{Name: g.Name, Passwd: g.Gid, GID: g.Gid}, nil
}

// findRecord scans a colon-separated database for a line whose first field is
// name and that has at least minFields fields.
func findRecord(path, name string, minFields int) ([]string, error) {
	if path == "" {
		return nil, ErrNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < minFields || fields[0] != name {
			continue
		}
		return fields, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil, ErrNotFound
}

// StaticDatabase serves fixed records.
type StaticDatabase struct {
	Users  map[string]User
	Groups map[string]Group
}

// LookupUser returns the configured user record.
func (d StaticDatabase) LookupUser(name string) (*User, error) {
	u, ok := d.Users[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// LookupGroup returns the configured group record.
func (d StaticDatabase) LookupGroup(name string) (*Group, error) {
	g, ok := d.Groups[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}
