package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// document is the full persisted state shared by MemoryStore and FileStore.
type document struct {
	Checksums map[string]map[string]ChecksumEntry `yaml:"checksums"`
	Facts     map[string]*Fact                    `yaml:"facts,omitempty"`
	Runs      []*Run                              `yaml:"runs,omitempty"`
	Events    []*Event                            `yaml:"events,omitempty"`
}

func newDocument() *document {
	return &document{
		Checksums: make(map[string]map[string]ChecksumEntry),
		Facts:     make(map[string]*Fact),
	}
}

// clone copies the document deeply enough that mutating the copy leaves d
// untouched. Stored records are replaced, never edited in place.
func (d *document) clone() *document {
	next := &document{
		Checksums: make(map[string]map[string]ChecksumEntry, len(d.Checksums)),
		Facts:     make(map[string]*Fact, len(d.Facts)),
		Runs:      append([]*Run(nil), d.Runs...),
		Events:    append([]*Event(nil), d.Events...),
	}
	for path, entries := range d.Checksums {
		copied := make(map[string]ChecksumEntry, len(entries))
		for algo, e := range entries {
			copied[algo] = e
		}
		next.Checksums[path] = copied
	}
	for key, fact := range d.Facts {
		next.Facts[key] = fact
	}
	return next
}

// pruneRuns keeps the newest limit runs and drops the events of the others.
func (d *document) pruneRuns(limit int) {
	if limit <= 0 || len(d.Runs) <= limit {
		return
	}
	dropped := make(map[string]bool, len(d.Runs)-limit)
	for _, r := range d.Runs[:len(d.Runs)-limit] {
		dropped[r.ID] = true
	}
	d.Runs = append([]*Run(nil), d.Runs[len(d.Runs)-limit:]...)

	events := make([]*Event, 0, len(d.Events))
	for _, e := range d.Events {
		if !dropped[e.RunID] {
			events = append(events, e)
		}
	}
	d.Events = events
}

func factKey(targetID, name string) string {
	return targetID + "/" + name
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	doc *document

	// onChange is called with the lock held on the mutated copy of the
	// document. The copy replaces doc only when onChange succeeds.
	onChange func(*document) error

	// runHistory caps the number of stored runs. Zero keeps all of them.
	runHistory int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: newDocument()}
}

// Init is a no-op.
func (s *MemoryStore) Init(_ context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Migrate is a no-op.
func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// SetRunHistory limits the store to the newest n runs and their events.
// Zero or less keeps every run.
func (s *MemoryStore) SetRunHistory(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runHistory = n
}

// update applies fn to the document. Callers hold the write lock. With an
// onChange hook, fn works on a copy that is kept only once the hook accepts
// it, so a failed persist leaves the store as it was.
func (s *MemoryStore) update(fn func(doc *document) error) error {
	doc := s.doc
	if s.onChange != nil {
		doc = s.doc.clone()
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.pruneRuns(s.runHistory)
	if s.onChange != nil {
		if err := s.onChange(doc); err != nil {
			return err
		}
	}
	s.doc = doc
	return nil
}

// GetChecksums returns the memoized checksums for path.
func (s *MemoryStore) GetChecksums(_ context.Context, path string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.doc.Checksums[path]
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("checksums for %s: %w", path, ErrNotFound)
	}
	sums := make(map[string]string, len(entries))
	for algo, e := range entries {
		sums[algo] = e.Value
	}
	return sums, nil
}

// PutChecksum records a checksum for path and algorithm.
func (s *MemoryStore) PutChecksum(_ context.Context, path, algorithm, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(doc *document) error {
		entries, ok := doc.Checksums[path]
		if !ok {
			entries = make(map[string]ChecksumEntry)
			doc.Checksums[path] = entries
		}
		entries[algorithm] = ChecksumEntry{
			Path:       path,
			Algorithm:  algorithm,
			Value:      value,
			RecordedAt: time.Now().UTC(),
		}
		return nil
	})
}

// ListChecksums returns the entries for path ordered by algorithm.
func (s *MemoryStore) ListChecksums(_ context.Context, path string) ([]*ChecksumEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []*ChecksumEntry{}
	for _, e := range s.doc.Checksums[path] {
		e := e
		entries = append(entries, &e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Algorithm < entries[j].Algorithm })
	return entries, nil
}

// DeleteChecksums forgets every checksum for path.
func (s *MemoryStore) DeleteChecksums(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(doc *document) error {
		delete(doc.Checksums, path)
		return nil
	})
}

// UpsertFact inserts or updates a fact.
func (s *MemoryStore) UpsertFact(_ context.Context, fact *Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := factKey(fact.TargetID, fact.Name)
	if existing, ok := s.doc.Facts[key]; ok {
		fact.CreatedAt = existing.CreatedAt
	} else if fact.CreatedAt.IsZero() {
		fact.CreatedAt = now
	}
	fact.UpdatedAt = now
	fact.ExpiresAt = nil
	if fact.TTL > 0 {
		expires := now.Add(time.Duration(fact.TTL) * time.Second)
		fact.ExpiresAt = &expires
	}

	stored := *fact
	return s.update(func(doc *document) error {
		doc.Facts[key] = &stored
		return nil
	})
}

// GetFact returns a non-expired fact.
func (s *MemoryStore) GetFact(_ context.Context, targetID, name string) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fact, ok := s.doc.Facts[factKey(targetID, name)]
	if !ok || fact.Expired(time.Now()) {
		return nil, fmt.Errorf("fact %s/%s: %w", targetID, name, ErrNotFound)
	}
	copied := *fact
	return &copied, nil
}

// DeleteExpiredFacts removes facts whose TTL has elapsed.
func (s *MemoryStore) DeleteExpiredFacts(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired []string
	for key, fact := range s.doc.Facts {
		if fact.Expired(now) {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	err := s.update(func(doc *document) error {
		for _, key := range expired {
			delete(doc.Facts, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(len(expired)), nil
}

// CreateRun records a new run.
func (s *MemoryStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.doc.Runs {
		if r.ID == run.ID {
			return fmt.Errorf("run %s already exists", run.ID)
		}
	}
	stored := *run
	return s.update(func(doc *document) error {
		doc.Runs = append(doc.Runs, &stored)
		return nil
	})
}

// GetRun returns a run by ID.
func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.doc.Runs {
		if r.ID == id {
			copied := *r
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
}

// CompleteRun stores the final status and counters of a run.
func (s *MemoryStore) CompleteRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	stored := *run
	return s.update(func(doc *document) error {
		for i, r := range doc.Runs {
			if r.ID == run.ID {
				doc.Runs[i] = &stored
				return nil
			}
		}
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	})
}

// AppendEvent appends a sync event.
func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	return s.update(func(doc *document) error {
		doc.Events = append(doc.Events, &stored)
		return nil
	})
}

// ListEvents returns the events of a run in insertion order.
func (s *MemoryStore) ListEvents(_ context.Context, runID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := []*Event{}
	for _, e := range s.doc.Events {
		if e.RunID == runID {
			copied := *e
			events = append(events, &copied)
		}
	}
	return events, nil
}
