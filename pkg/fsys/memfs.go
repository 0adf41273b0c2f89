package fsys

import (
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemFS is an in-memory FS. Every successful mutation is counted so callers
// can assert that a converged tree is left alone.
type MemFS struct {
	mu        sync.Mutex
	nodes     map[string]*memNode
	clock     time.Time
	mutations int

	// DefaultUID and DefaultGID own entries created through CreateEmpty.
	DefaultUID int
	DefaultGID int
}

type memNode struct {
	info    Info
	content []byte
}

var _ FS = (*MemFS)(nil)

// NewMemFS returns an empty tree containing only the root directory.
func NewMemFS() *MemFS {
	m := &MemFS{
		nodes: make(map[string]*memNode),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	m.nodes["/"] = &memNode{info: Info{Path: "/", Kind: KindDirectory, Mode: 0o755, ModTime: m.clock, ChangeTime: m.clock}}
	return m
}

// AddDir adds a directory, creating missing parents with the same attributes.
func (m *MemFS) AddDir(p string, uid, gid int, mode uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(path.Clean(p), KindDirectory, nil, uid, gid, mode)
}

// AddFile adds a regular file with the given content, creating missing parents.
func (m *MemFS) AddFile(p string, content []byte, uid, gid int, mode uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(path.Clean(p), KindFile, content, uid, gid, mode)
}

// WriteContent replaces a file's content and bumps its timestamps. It is a
// test hook for external changes and is not counted as a mutation.
func (m *MemFS) WriteContent(p string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupLocked("write", p)
	if err != nil {
		return err
	}
	n.content = append([]byte(nil), content...)
	n.info.Size = int64(len(content))
	now := m.tickLocked()
	n.info.ModTime = now
	n.info.ChangeTime = now
	return nil
}

// Remove deletes an entry and everything below it.
func (m *MemFS) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean(p)
	for name := range m.nodes {
		if name == p || strings.HasPrefix(name, p+"/") {
			delete(m.nodes, name)
		}
	}
}

// Mutations returns the number of successful CreateEmpty, Chown and Chmod calls.
func (m *MemFS) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}

// Stat returns a copy of the entry's metadata.
func (m *MemFS) Stat(p string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupLocked("stat", p)
	if err != nil {
		return nil, err
	}
	info := n.info
	return &info, nil
}

// CreateEmpty creates an empty file owned by DefaultUID/DefaultGID.
func (m *MemFS) CreateEmpty(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean(p)
	if _, ok := m.nodes[p]; ok {
		return nil
	}
	parent, ok := m.nodes[path.Dir(p)]
	if !ok || parent.info.Kind != KindDirectory {
		return &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	now := m.tickLocked()
	m.nodes[p] = &memNode{info: Info{
		Path:       p,
		Kind:       KindFile,
		UID:        m.DefaultUID,
		GID:        m.DefaultGID,
		Mode:       0o644,
		ModTime:    now,
		ChangeTime: now,
	}}
	m.mutations++
	return nil
}

// Chown changes owner and group.
func (m *MemFS) Chown(p string, uid, gid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupLocked("chown", p)
	if err != nil {
		return err
	}
	if uid != Unchanged {
		n.info.UID = uid
	}
	if gid != Unchanged {
		n.info.GID = gid
	}
	n.info.ChangeTime = m.tickLocked()
	m.mutations++
	return nil
}

// Chmod sets the permission bits.
func (m *MemFS) Chmod(p string, mode uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupLocked("chmod", p)
	if err != nil {
		return err
	}
	n.info.Mode = mode & PermMask
	n.info.ChangeTime = m.tickLocked()
	m.mutations++
	return nil
}

// ReadBytes reads up to limit bytes of a file.
func (m *MemFS) ReadBytes(p string, limit int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupLocked("read", p)
	if err != nil {
		return nil, err
	}
	if n.info.Kind == KindDirectory {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrInvalid}
	}
	data := n.content
	if limit > 0 && int64(len(data)) > limit {
		data = data[:limit]
	}
	return append([]byte(nil), data...), nil
}

// ListEntries returns the sorted names directly below a directory.
func (m *MemFS) ListEntries(p string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupLocked("readdir", p)
	if err != nil {
		return nil, err
	}
	if n.info.Kind != KindDirectory {
		return nil, &fs.PathError{Op: "readdir", Path: p, Err: fs.ErrInvalid}
	}

	dir := path.Clean(p)
	var names []string
	for name := range m.nodes {
		if name != dir && path.Dir(name) == dir {
			names = append(names, path.Base(name))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemFS) lookupLocked(op, p string) (*memNode, error) {
	n, ok := m.nodes[path.Clean(p)]
	if !ok {
		return nil, &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
	}
	return n, nil
}

func (m *MemFS) addLocked(p string, kind Kind, content []byte, uid, gid int, mode uint32) {
	if dir := path.Dir(p); dir != p {
		if _, ok := m.nodes[dir]; !ok {
			m.addLocked(dir, KindDirectory, nil, uid, gid, 0o755)
		}
	}
	now := m.tickLocked()
	m.nodes[p] = &memNode{
		info: Info{
			Path:       p,
			Kind:       kind,
			UID:        uid,
			GID:        gid,
			Mode:       mode & PermMask,
			Size:       int64(len(content)),
			ModTime:    now,
			ChangeTime: now,
		},
		content: append([]byte(nil), content...),
	}
}

func (m *MemFS) tickLocked() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}
