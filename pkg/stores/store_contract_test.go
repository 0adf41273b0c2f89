package stores

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("checksums", func(t *testing.T) {
		if _, err := store.GetChecksums(ctx, "/srv/app.conf"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound before any put, got %v", err)
		}

		if err := store.PutChecksum(ctx, "/srv/app.conf", "md5", "111"); err != nil {
			t.Fatalf("failed to put checksum: %v", err)
		}
		if err := store.PutChecksum(ctx, "/srv/app.conf", "mtime", "2024-01-01T00:00:00Z"); err != nil {
			t.Fatalf("failed to put checksum: %v", err)
		}
		if err := store.PutChecksum(ctx, "/srv/app.conf", "md5", "222"); err != nil {
			t.Fatalf("failed to overwrite checksum: %v", err)
		}

		sums, err := store.GetChecksums(ctx, "/srv/app.conf")
		if err != nil {
			t.Fatalf("failed to get checksums: %v", err)
		}
		if len(sums) != 2 {
			t.Errorf("expected 2 algorithms, got %d", len(sums))
		}
		if sums["md5"] != "222" {
			t.Errorf("expected overwritten md5 222, got %q", sums["md5"])
		}

		entries, err := store.ListChecksums(ctx, "/srv/app.conf")
		if err != nil {
			t.Fatalf("failed to list checksums: %v", err)
		}
		if len(entries) != 2 || entries[0].Algorithm != "md5" || entries[1].Algorithm != "mtime" {
			t.Errorf("unexpected entries: %+v", entries)
		}

		if err := store.DeleteChecksums(ctx, "/srv/app.conf"); err != nil {
			t.Fatalf("failed to delete checksums: %v", err)
		}
		if _, err := store.GetChecksums(ctx, "/srv/app.conf"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("facts", func(t *testing.T) {
		fact := &Fact{TargetID: "local", Name: "Kernel", Value: "6.1", TTL: 3600}
		if err := store.UpsertFact(ctx, fact); err != nil {
			t.Fatalf("failed to upsert fact: %v", err)
		}

		got, err := store.GetFact(ctx, "local", "Kernel")
		if err != nil {
			t.Fatalf("failed to get fact: %v", err)
		}
		if got.Value != "6.1" {
			t.Errorf("expected value 6.1, got %s", got.Value)
		}
		if got.ExpiresAt == nil || got.ExpiresAt.Before(time.Now()) {
			t.Errorf("expected future expiry, got %v", got.ExpiresAt)
		}

		if _, err := store.GetFact(ctx, "local", "Missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("runs and events", func(t *testing.T) {
		run := &Run{
			ID:           "run-001",
			ManifestPath: "/etc/converge/site.yaml",
			Status:       RunStatusRunning,
			StartedAt:    time.Now().UTC(),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}

		for i, name := range []string{"file_created", "inode_changed"} {
			event := &Event{
				ID:        "evt-" + name,
				RunID:     run.ID,
				Path:      "/srv/app.conf",
				Attribute: []string{"create", "mode"}[i],
				Event:     name,
				Timestamp: time.Now().UTC(),
			}
			if err := store.AppendEvent(ctx, event); err != nil {
				t.Fatalf("failed to append event: %v", err)
			}
		}

		run.Status = RunStatusCompleted
		run.Resources = 1
		run.Changes = 2
		if err := store.CompleteRun(ctx, run); err != nil {
			t.Fatalf("failed to complete run: %v", err)
		}

		got, err := store.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("failed to get run: %v", err)
		}
		if got.Status != RunStatusCompleted || got.Changes != 2 || got.CompletedAt == nil {
			t.Errorf("unexpected run: %+v", got)
		}

		events, err := store.ListEvents(ctx, run.ID)
		if err != nil {
			t.Fatalf("failed to list events: %v", err)
		}
		if len(events) != 2 || events[0].Event != "file_created" || events[1].Event != "inode_changed" {
			t.Errorf("unexpected events: %+v", events)
		}

		if _, err := store.GetRun(ctx, "run-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestFileStoreContract(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	runStoreContract(t, store)
}

func TestFileStoreReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	ctx := context.Background()

	first, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := first.PutChecksum(ctx, "/etc/hosts", "md5lite", "feed"); err != nil {
		t.Fatalf("failed to put checksum: %v", err)
	}

	second, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Init(ctx); err != nil {
		t.Fatalf("failed to reload store: %v", err)
	}
	sums, err := second.GetChecksums(ctx, "/etc/hosts")
	if err != nil {
		t.Fatalf("failed to get checksums: %v", err)
	}
	if sums["md5lite"] != "feed" {
		t.Errorf("expected reloaded checksum feed, got %q", sums["md5lite"])
	}
}

func TestFileStoreFailedSaveKeepsState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	ctx := context.Background()

	store, err := NewFileStore(filepath.Join(dir, "state.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.PutChecksum(ctx, "/srv/app.conf", "md5", "abc"); err != nil {
		t.Fatalf("failed to put checksum: %v", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := store.PutChecksum(ctx, "/srv/app.conf", "md5", "def"); err == nil {
		t.Fatal("expected the save to fail without a state directory")
	}
	if err := store.PutChecksum(ctx, "/srv/other.conf", "md5", "123"); err == nil {
		t.Fatal("expected the save to fail without a state directory")
	}
	if err := store.CreateRun(ctx, &Run{ID: "run-1", Status: RunStatusRunning}); err == nil {
		t.Fatal("expected the save to fail without a state directory")
	}

	sums, err := store.GetChecksums(ctx, "/srv/app.conf")
	if err != nil {
		t.Fatalf("failed to get checksums: %v", err)
	}
	if sums["md5"] != "abc" {
		t.Errorf("expected the saved checksum abc, got %q", sums["md5"])
	}
	if _, err := store.GetChecksums(ctx, "/srv/other.conf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unsaved path, got %v", err)
	}
	if _, err := store.GetRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unsaved run, got %v", err)
	}

	// Writes succeed again once the directory is back.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := store.PutChecksum(ctx, "/srv/app.conf", "md5", "def"); err != nil {
		t.Fatalf("failed to put checksum: %v", err)
	}
}

func TestFileStoreRunHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	ctx := context.Background()

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	store.SetRunHistory(2)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("run-%d", i)
		if err := store.CreateRun(ctx, &Run{ID: id, Status: RunStatusRunning, StartedAt: time.Now()}); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
		event := &Event{ID: id + "-e", RunID: id, Path: "/srv/app.conf", Attribute: "mode", Event: "inode_changed"}
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	reloaded, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := reloaded.Init(ctx); err != nil {
		t.Fatalf("failed to reload store: %v", err)
	}
	for _, id := range []string{"run-1", "run-2"} {
		if _, err := reloaded.GetRun(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected %s to be pruned, got %v", id, err)
		}
		events, err := reloaded.ListEvents(ctx, id)
		if err != nil || len(events) != 0 {
			t.Errorf("expected no events for %s, got %d (%v)", id, len(events), err)
		}
	}
	for _, id := range []string{"run-3", "run-4"} {
		if _, err := reloaded.GetRun(ctx, id); err != nil {
			t.Errorf("expected %s to be kept, got %v", id, err)
		}
		events, err := reloaded.ListEvents(ctx, id)
		if err != nil || len(events) != 1 {
			t.Errorf("expected 1 event for %s, got %d (%v)", id, len(events), err)
		}
	}
}

func TestOpen(t *testing.T) {
	for _, driver := range []string{DriverSQLite, DriverFile, DriverMemory} {
		if _, err := Open(driver, filepath.Join(t.TempDir(), "s")); err != nil {
			t.Errorf("failed to open %s store: %v", driver, err)
		}
	}
	if _, err := Open("redis", ""); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
