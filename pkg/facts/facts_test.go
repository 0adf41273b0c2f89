package facts

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/openfroyo/converge/pkg/stores"
)

type countingProvider struct {
	Static
	calls int
}

func (c *countingProvider) Get(name string) (string, error) {
	c.calls++
	return c.Static.Get(name)
}

func TestLocalOperatingSystem(t *testing.T) {
	os, err := NewLocal().Get(OperatingSystem)
	if err != nil {
		t.Fatalf("failed to get operating system: %v", err)
	}

	want := map[string]string{"linux": "Linux", "darwin": "Darwin", "freebsd": "FreeBSD"}[runtime.GOOS]
	if want != "" && os != want {
		t.Errorf("Operatingsystem = %q, want %q", os, want)
	}
}

func TestLocalUnknownFact(t *testing.T) {
	if _, err := NewLocal().Get("Virtual"); !errors.Is(err, ErrUnknownFact) {
		t.Errorf("expected ErrUnknownFact, got %v", err)
	}
}

func TestOverlay(t *testing.T) {
	p := Overlay(Static{OperatingSystem: "Linux", Kernel: "6.1"}, map[string]string{OperatingSystem: "Darwin"})

	if v, _ := p.Get(OperatingSystem); v != "Darwin" {
		t.Errorf("override not applied, got %q", v)
	}
	if v, _ := p.Get(Kernel); v != "6.1" {
		t.Errorf("base fact lost, got %q", v)
	}
}

func TestCachedReusesStoredFacts(t *testing.T) {
	store := stores.NewMemoryStore()
	source := &countingProvider{Static: Static{OperatingSystem: "FreeBSD"}}
	cached := NewCached(store, source, "local", time.Hour)

	for i := 0; i < 3; i++ {
		v, err := cached.Get(OperatingSystem)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if v != "FreeBSD" {
			t.Errorf("value = %q", v)
		}
	}
	if source.calls != 1 {
		t.Errorf("source consulted %d times, want 1", source.calls)
	}

	fact, err := store.GetFact(context.Background(), "local", OperatingSystem)
	if err != nil {
		t.Fatalf("fact not persisted: %v", err)
	}
	if fact.TTL != 3600 {
		t.Errorf("TTL = %d, want 3600", fact.TTL)
	}
}

func TestCollect(t *testing.T) {
	got, missing := Collect(Static{Hostname: "web1", Kernel: "6.1"}, Names())
	if got[Hostname] != "web1" || got[Kernel] != "6.1" {
		t.Errorf("unexpected facts: %v", got)
	}
	if len(missing) != 2 || missing[0] != Architecture || missing[1] != OperatingSystem {
		t.Errorf("unexpected missing: %v", missing)
	}
}
