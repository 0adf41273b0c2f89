// Package fsys is the raw filesystem layer used by file resources. It exposes
// metadata lookups and the small set of mutations the file states perform,
// behind an interface so reconciliation can run against an in-memory tree.
package fsys

import (
	"time"
)

// Kind is the type of a filesystem entry.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindSymlink   Kind = "symlink"
	KindOther     Kind = "other"
)

// Unchanged tells Chown to leave one half of the owner/group pair alone.
const Unchanged = -1

// PermMask selects the owner/group/other rwx bits plus setuid, setgid and sticky.
const PermMask uint32 = 0o7777

// Info is the metadata of a single filesystem entry.
type Info struct {
	Path string
	Kind Kind

	UID int
	GID int

	// Mode holds the permission and special bits only (see PermMask).
	Mode uint32

	Size       int64
	ModTime    time.Time
	ChangeTime time.Time
}

// IsDir reports whether the entry is a directory.
func (i *Info) IsDir() bool {
	return i != nil && i.Kind == KindDirectory
}

// FS is the set of filesystem operations file resources depend on.
type FS interface {
	// Stat returns metadata for path, following symlinks.
	Stat(path string) (*Info, error)

	// CreateEmpty creates an empty regular file without truncating an existing one.
	CreateEmpty(path string) error

	// Chown changes owner and group; pass Unchanged for the half to keep.
	Chown(path string, uid, gid int) error

	// Chmod sets the permission and special bits.
	Chmod(path string, mode uint32) error

	// ReadBytes reads at most limit bytes; a limit <= 0 reads the whole file.
	ReadBytes(path string, limit int64) ([]byte, error)

	// ListEntries returns the sorted names in a directory, without "." and "..".
	ListEntries(path string) ([]string, error)
}
