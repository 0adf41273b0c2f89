package fsys

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// OS implements FS against the host filesystem.
type OS struct{}

var _ FS = OS{}

// Stat returns metadata for path.
func (OS) Stat(path string) (*Info, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, &os.PathError{Op: "stat", Path: path, Err: err}
	}

	return &Info{
		Path:       path,
		Kind:       kindFromMode(uint32(st.Mode)),
		UID:        int(st.Uid),
		GID:        int(st.Gid),
		Mode:       uint32(st.Mode) & PermMask,
		Size:       int64(st.Size),
		ModTime:    time.Unix(st.Mtim.Unix()),
		ChangeTime: time.Unix(st.Ctim.Unix()),
	}, nil
}

// CreateEmpty creates an empty file at path.
func (OS) CreateEmpty(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		return err
	}
	return f.Close()
}

// Chown changes the owner and/or group of path.
func (OS) Chown(path string, uid, gid int) error {
	if err := unix.Chown(path, uid, gid); err != nil {
		return &os.PathError{Op: "chown", Path: path, Err: err}
	}
	return nil
}

// Chmod sets the mode bits of path, including setuid/setgid/sticky.
func (OS) Chmod(path string, mode uint32) error {
	if mode&^PermMask != 0 {
		return fmt.Errorf("mode %o has bits outside %o", mode, PermMask)
	}
	if err := unix.Chmod(path, mode); err != nil {
		return &os.PathError{Op: "chmod", Path: path, Err: err}
	}
	return nil
}

// ReadBytes reads up to limit bytes from path.
func (OS) ReadBytes(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit)
	}
	return io.ReadAll(r)
}

// ListEntries returns the names of the entries in the directory at path.
func (OS) ListEntries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	entries := names[:0]
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, name)
	}
	sort.Strings(entries)
	return entries, nil
}

func kindFromMode(mode uint32) Kind {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return KindFile
	case unix.S_IFDIR:
		return KindDirectory
	case unix.S_IFLNK:
		return KindSymlink
	default:
		return KindOther
	}
}
