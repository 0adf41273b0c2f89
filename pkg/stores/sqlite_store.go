package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteTimeFormat keeps stored timestamps comparable as text.
const sqliteTimeFormat = "2006-01-02 15:04:05"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path
	if s.path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", s.path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// GetChecksums returns the memoized checksums for a path
func (s *SQLiteStore) GetChecksums(ctx context.Context, path string) (map[string]string, error) {
	entries, err := s.ListChecksums(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("checksums for %s: %w", path, ErrNotFound)
	}

	sums := make(map[string]string, len(entries))
	for _, e := range entries {
		sums[e.Algorithm] = e.Value
	}
	return sums, nil
}

// PutChecksum inserts or replaces a memoized checksum
func (s *SQLiteStore) PutChecksum(ctx context.Context, path, algorithm, value string) error {
	query := `
		INSERT INTO checksums (path, algorithm, value, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path, algorithm) DO UPDATE SET
			value = excluded.value,
			recorded_at = excluded.recorded_at
	`

	if _, err := s.db.ExecContext(ctx, query, path, algorithm, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to put checksum: %w", err)
	}

	return nil
}

// ListChecksums lists the memoized checksums for a path
func (s *SQLiteStore) ListChecksums(ctx context.Context, path string) ([]*ChecksumEntry, error) {
	query := `
		SELECT path, algorithm, value, recorded_at
		FROM checksums
		WHERE path = ?
		ORDER BY algorithm
	`

	rows, err := s.db.QueryContext(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list checksums: %w", err)
	}
	defer rows.Close()

	entries := []*ChecksumEntry{}
	for rows.Next() {
		e := &ChecksumEntry{}
		if err := rows.Scan(&e.Path, &e.Algorithm, &e.Value, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checksum: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checksums: %w", err)
	}

	return entries, nil
}

// DeleteChecksums removes every memoized checksum for a path
func (s *SQLiteStore) DeleteChecksums(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checksums WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete checksums: %w", err)
	}
	return nil
}

// UpsertFact inserts or updates a fact
func (s *SQLiteStore) UpsertFact(ctx context.Context, fact *Fact) error {
	query := `
		INSERT INTO facts (target_id, name, value, ttl, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id, name) DO UPDATE SET
			value = excluded.value,
			ttl = excluded.ttl,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = now
	}
	fact.UpdatedAt = now
	if fact.TTL > 0 {
		expires := now.Add(time.Duration(fact.TTL) * time.Second)
		fact.ExpiresAt = &expires
	}

	// Format expires_at to SQLite-compatible datetime string
	var expiresAt *string
	if fact.ExpiresAt != nil {
		formatted := fact.ExpiresAt.UTC().Format(sqliteTimeFormat)
		expiresAt = &formatted
	}

	_, err := s.db.ExecContext(ctx, query,
		fact.TargetID,
		fact.Name,
		fact.Value,
		fact.TTL,
		expiresAt,
		fact.CreatedAt,
		fact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fact: %w", err)
	}

	return nil
}

// GetFact retrieves a non-expired fact
func (s *SQLiteStore) GetFact(ctx context.Context, targetID, name string) (*Fact, error) {
	query := `
		SELECT target_id, name, value, ttl, expires_at, created_at, updated_at
		FROM facts
		WHERE target_id = ? AND name = ?
	`

	fact := &Fact{}
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, targetID, name).Scan(
		&fact.TargetID,
		&fact.Name,
		&fact.Value,
		&fact.TTL,
		&expiresAt,
		&fact.CreatedAt,
		&fact.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fact %s/%s: %w", targetID, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fact: %w", err)
	}

	if expiresAt.Valid {
		fact.ExpiresAt = &expiresAt.Time
	}
	if fact.Expired(time.Now()) {
		return nil, fmt.Errorf("fact %s/%s expired: %w", targetID, name, ErrNotFound)
	}

	return fact, nil
}

// DeleteExpiredFacts removes facts whose TTL has elapsed
func (s *SQLiteStore) DeleteExpiredFacts(ctx context.Context) (int64, error) {
	query := `DELETE FROM facts WHERE expires_at IS NOT NULL AND expires_at <= ?`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(sqliteTimeFormat))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired facts: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, manifest_path, status, started_at, resources, changes, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.ManifestPath,
		run.Status,
		run.StartedAt,
		run.Resources,
		run.Changes,
		run.Failures,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, manifest_path, status, started_at, completed_at, error, resources, changes, failures
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	var completedAt sql.NullTime
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.ManifestPath,
		&run.Status,
		&run.StartedAt,
		&completedAt,
		&errMsg,
		&run.Resources,
		&run.Changes,
		&run.Failures,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}

	return run, nil
}

// CompleteRun records the final status and counters of a run
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, error = ?, resources = ?, changes = ?, failures = ?
		WHERE id = ?
	`

	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		*run.CompletedAt,
		run.Error,
		run.Resources,
		run.Changes,
		run.Failures,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}

	return nil
}

// AppendEvent appends a sync event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (id, run_id, path, attribute, event, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		event.Path,
		event.Attribute,
		event.Event,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents returns the events of a run in insertion order
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*Event, error) {
	query := `
		SELECT id, run_id, path, attribute, event, message, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.Path,
			&e.Attribute,
			&e.Event,
			&e.Message,
			&e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck performs a health check on the database
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}
