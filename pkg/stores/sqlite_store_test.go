package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"checksums", "runs", "events", "facts"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestSQLiteFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	open := func() *SQLiteStore {
		store, err := NewSQLiteStore(Config{Path: path})
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		if err := store.Init(ctx); err != nil {
			t.Fatalf("failed to initialize store: %v", err)
		}
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to migrate store: %v", err)
		}
		return store
	}

	first := open()
	if err := first.PutChecksum(ctx, "/etc/motd", "md5", "abc"); err != nil {
		t.Fatalf("failed to put checksum: %v", err)
	}
	_ = first.Close()

	second := open()
	defer second.Close()

	sums, err := second.GetChecksums(ctx, "/etc/motd")
	if err != nil {
		t.Fatalf("failed to get checksums: %v", err)
	}
	if sums["md5"] != "abc" {
		t.Errorf("expected persisted checksum abc, got %q", sums["md5"])
	}
}

func TestSQLiteFactExpiry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	fact := &Fact{TargetID: "local", Name: "Operatingsystem", Value: "Linux"}
	if err := store.UpsertFact(ctx, fact); err != nil {
		t.Fatalf("failed to upsert fact: %v", err)
	}

	// Force expiry directly in the table.
	if _, err := store.db.ExecContext(ctx,
		`UPDATE facts SET expires_at = ? WHERE name = ?`,
		past.UTC().Format(sqliteTimeFormat), "Operatingsystem"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.GetFact(ctx, "local", "Operatingsystem"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired fact to be not found, got %v", err)
	}

	deleted, err := store.DeleteExpiredFacts(ctx)
	if err != nil {
		t.Fatalf("failed to delete expired facts: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted fact, got %d", deleted)
	}
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, setupTestStore(t))
}
