package stores

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultRunHistory is the number of runs a FileStore keeps unless told
// otherwise.
const DefaultRunHistory = 100

// FileStore keeps the whole store in a single YAML file. Every mutation
// rewrites the file through a temporary file and rename. Only the newest
// DefaultRunHistory runs and their events are kept.
type FileStore struct {
	*MemoryStore
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store persisted at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	fs := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
	}
	fs.onChange = fs.save
	fs.runHistory = DefaultRunHistory
	return fs, nil
}

// Init loads the state file if it exists.
func (s *FileStore) Init(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	doc := newDocument()
	if err := yaml.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	if doc.Checksums == nil {
		doc.Checksums = make(map[string]map[string]ChecksumEntry)
	}
	if doc.Facts == nil {
		doc.Facts = make(map[string]*Fact)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// HealthCheck verifies the state directory is writable.
func (s *FileStore) HealthCheck(_ context.Context) error {
	f, err := os.CreateTemp(filepath.Dir(s.path), ".health-*")
	if err != nil {
		return fmt.Errorf("state directory not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (s *FileStore) save(doc *document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
