package fsys

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestOSStatAndMutations(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "motd")

	var osfs OS
	if _, err := osfs.Stat(p); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}

	if err := osfs.CreateEmpty(p); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	info, err := osfs.Stat(p)
	if err != nil {
		t.Fatalf("failed to stat file: %v", err)
	}
	if info.Kind != KindFile {
		t.Errorf("expected kind %s, got %s", KindFile, info.Kind)
	}
	if info.Size != 0 {
		t.Errorf("expected empty file, got size %d", info.Size)
	}
	if info.UID != os.Getuid() {
		t.Errorf("expected uid %d, got %d", os.Getuid(), info.UID)
	}

	if err := osfs.Chmod(p, 0o4640); err != nil {
		t.Fatalf("failed to chmod: %v", err)
	}
	info, _ = osfs.Stat(p)
	if info.Mode != 0o4640 {
		t.Errorf("expected mode 4640, got %o", info.Mode)
	}

	// Chowning to our own ids is allowed without privileges.
	if err := osfs.Chown(p, os.Getuid(), Unchanged); err != nil {
		t.Fatalf("failed to chown: %v", err)
	}
}

func TestOSChmodRejectsFileTypeBits(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(p, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := (OS{}).Chmod(p, 0o100644); err == nil {
		t.Error("expected error for mode with file type bits")
	}
}

func TestOSCreateEmptyKeepsContent(t *testing.T) {
	p := filepath.Join(t.TempDir(), "keep")
	if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := (OS{}).CreateEmpty(p); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	data, err := (OS{}).ReadBytes(p, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "data" {
		t.Errorf("expected content to survive, got %q", data)
	}
}

func TestOSReadBytesLimit(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big")
	content := make([]byte, 2048)
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := (OS{}).ReadBytes(p, 512)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if len(data) != 512 {
		t.Errorf("expected 512 bytes, got %d", len(data))
	}
}

func TestOSListEntries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b", "a", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	names, err := (OS{}).ListEntries(dir)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	want := []string{".hidden", "a", "b"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestMemFS(t *testing.T) {
	m := NewMemFS()
	m.AddDir("/srv", 0, 0, 0o755)
	m.AddFile("/srv/a", []byte("hello"), 10, 20, 0o600)
	m.AddFile("/srv/sub/b", nil, 0, 0, 0o644)

	names, err := m.ListEntries("/srv")
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"a", "sub"}) {
		t.Errorf("unexpected entries: %v", names)
	}

	if err := m.Chown("/srv/a", Unchanged, 30); err != nil {
		t.Fatal(err)
	}
	info, _ := m.Stat("/srv/a")
	if info.UID != 10 || info.GID != 30 {
		t.Errorf("expected 10:30, got %d:%d", info.UID, info.GID)
	}

	if err := m.CreateEmpty("/missing/dir/file"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist for missing parent, got %v", err)
	}
	if err := m.CreateEmpty("/srv/new"); err != nil {
		t.Fatal(err)
	}
	if got := m.Mutations(); got != 2 {
		t.Errorf("expected 2 mutations, got %d", got)
	}

	data, _ := m.ReadBytes("/srv/a", 2)
	if string(data) != "he" {
		t.Errorf("expected limited read, got %q", data)
	}
}
