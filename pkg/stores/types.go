package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned (wrapped) when a record does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of a reconciliation run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents one reconciliation run over a manifest
type Run struct {
	ID           string     `json:"id" yaml:"id"`
	ManifestPath string     `json:"manifest_path" yaml:"manifest_path"`
	Status       RunStatus  `json:"status" yaml:"status"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty" yaml:"error,omitempty"`
	Resources    int        `json:"resources" yaml:"resources"`
	Changes      int        `json:"changes" yaml:"changes"`
	Failures     int        `json:"failures" yaml:"failures"`
}

// Event records a state sync that emitted an event (or failed)
type Event struct {
	ID        string    `json:"id" yaml:"id"`
	RunID     string    `json:"run_id" yaml:"run_id"`
	Path      string    `json:"path" yaml:"path"`
	Attribute string    `json:"attribute" yaml:"attribute"`
	Event     string    `json:"event" yaml:"event"`
	Message   string    `json:"message,omitempty" yaml:"message,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// ChecksumEntry is one memoized checksum for a path
type ChecksumEntry struct {
	Path       string    `json:"path" yaml:"path"`
	Algorithm  string    `json:"algorithm" yaml:"algorithm"`
	Value      string    `json:"value" yaml:"value"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Fact represents a discovered fact about the managed host
type Fact struct {
	TargetID  string     `json:"target_id" yaml:"target_id"`
	Name      string     `json:"name" yaml:"name"`
	Value     string     `json:"value" yaml:"value"`
	TTL       int        `json:"ttl" yaml:"ttl"` // seconds, 0 = no expiry
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Expired reports whether the fact's TTL has elapsed at now.
func (f *Fact) Expired(now time.Time) bool {
	return f.ExpiresAt != nil && !now.Before(*f.ExpiresAt)
}

// ChecksumStore memoizes checksums across runs, keyed by path then algorithm.
type ChecksumStore interface {
	// GetChecksums returns algorithm -> value for path, or ErrNotFound.
	GetChecksums(ctx context.Context, path string) (map[string]string, error)

	// PutChecksum records value for path and algorithm, replacing any previous value.
	PutChecksum(ctx context.Context, path, algorithm, value string) error

	// ListChecksums returns every entry for path, ordered by algorithm.
	ListChecksums(ctx context.Context, path string) ([]*ChecksumEntry, error)

	// DeleteChecksums forgets all entries for path.
	DeleteChecksums(ctx context.Context, path string) error
}

// FactStore caches host facts with an optional TTL.
type FactStore interface {
	UpsertFact(ctx context.Context, fact *Fact) error
	GetFact(ctx context.Context, targetID, name string) (*Fact, error)
	DeleteExpiredFacts(ctx context.Context) (int64, error)
}

// EventStore keeps the append-only run history.
type EventStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, run *Run) error
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID string) ([]*Event, error)
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	ChecksumStore
	FactStore
	EventStore

	// Utility
	HealthCheck(ctx context.Context) error
}
