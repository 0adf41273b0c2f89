package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/facts"
	"github.com/openfroyo/converge/pkg/fsys"
	"github.com/openfroyo/converge/pkg/identity"
	"github.com/openfroyo/converge/pkg/stores"
	"github.com/openfroyo/converge/pkg/telemetry"
)

type harness struct {
	fs     *fsys.MemFS
	store  *stores.MemoryStore
	tel    *telemetry.Telemetry
	runner *Runner

	mu     sync.Mutex
	events []telemetry.Event
}

func newHarness(t *testing.T, parallelism int) *harness {
	t.Helper()

	mfs := fsys.NewMemFS()
	mfs.AddDir("/srv", 0, 0, 0o755)

	h := &harness{
		fs:    mfs,
		store: stores.NewMemoryStore(),
		tel:   telemetry.NewNopTelemetry(),
	}
	h.tel.Events.Subscribe(func(e telemetry.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
	}, nil)

	runner, err := NewRunner(Options{
		FS:    mfs,
		Store: h.store,
		Identity: identity.NewResolver(identity.StaticDatabase{
			Users:  map[string]identity.User{"app": {Name: "app", UID: "1000"}},
			Groups: map[string]identity.Group{"app": {Name: "app", GID: "1000"}},
		}),
		Facts:       facts.Static{facts.OperatingSystem: "Linux"},
		Telemetry:   h.tel,
		Parallelism: parallelism,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	h.runner = runner
	return h
}

func (h *harness) eventsOfType(eventType string) []telemetry.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []telemetry.Event
	for _, e := range h.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func mustManifest(t *testing.T, doc string) *config.Manifest {
	t.Helper()
	m, err := config.ParseManifest([]byte(doc))
	if err != nil {
		t.Fatalf("Expected a valid manifest, got: %v", err)
	}
	m.Path = "/etc/converge/site.yaml"
	return m
}

const appManifest = `
resources:
  - path: /srv/app.conf
    owner: app
    group: app
    mode: 644
    checksum: md5
`

func TestNewRunner_RequiresFSAndStore(t *testing.T) {
	if _, err := NewRunner(Options{Store: stores.NewMemoryStore()}); err == nil {
		t.Error("Expected an error without a filesystem")
	}
	if _, err := NewRunner(Options{FS: fsys.NewMemFS()}); err == nil {
		t.Error("Expected an error without a store")
	}
}

func TestApply_ConvergesAndRecordsRun(t *testing.T) {
	h := newHarness(t, 1)
	h.fs.AddFile("/srv/app.conf", []byte("hello"), 0, 0, 0o600)
	ctx := context.Background()

	report, err := h.runner.Apply(ctx, mustManifest(t, appManifest))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Status() != RunStatusSucceeded {
		t.Errorf("Expected status succeeded, got %s: %v", report.Status(), report.Err())
	}
	if report.EventCount() != 3 {
		t.Errorf("Expected 3 events, got %d", report.EventCount())
	}
	rr, ok := report.Resource("/srv/app.conf")
	if !ok || rr.Outcome != OutcomeChanged {
		t.Fatalf("Expected /srv/app.conf to be changed, got %+v", rr)
	}

	info, _ := h.fs.Stat("/srv/app.conf")
	if info.UID != 1000 || info.GID != 1000 || info.Mode&fsys.PermMask != 0o644 {
		t.Errorf("Expected 1000:1000 0644, got %d:%d %04o", info.UID, info.GID, info.Mode&fsys.PermMask)
	}

	run, err := h.store.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("Expected the run to be recorded, got: %v", err)
	}
	if run.Status != stores.RunStatusCompleted {
		t.Errorf("Expected run status completed, got %s", run.Status)
	}
	if run.Resources != 1 || run.Changes != 3 || run.Failures != 0 {
		t.Errorf("Unexpected run counters: %+v", run)
	}
	if run.ManifestPath != "/etc/converge/site.yaml" || run.CompletedAt == nil {
		t.Errorf("Unexpected run record: %+v", run)
	}

	events, err := h.store.ListEvents(ctx, report.RunID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 stored events, got %d", len(events))
	}
	attrs := []string{"owner", "group", "mode"}
	for i, e := range events {
		if e.Attribute != attrs[i] || e.Event != "inode_changed" || e.Path != "/srv/app.conf" || e.ID == "" {
			t.Errorf("Unexpected event %d: %+v", i, e)
		}
	}

	second, err := h.runner.Apply(ctx, mustManifest(t, appManifest))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if second.RunID == report.RunID {
		t.Error("Expected a new run ID")
	}
	if second.EventCount() != 0 {
		t.Errorf("Expected no events on the second run, got %d", second.EventCount())
	}
	if rr, _ := second.Resource("/srv/app.conf"); rr.Outcome != OutcomeConverged {
		t.Errorf("Expected converged, got %s", rr.Outcome)
	}
}

func TestCheck_ReportsWithoutChanging(t *testing.T) {
	h := newHarness(t, 1)
	h.fs.AddFile("/srv/app.conf", []byte("hello"), 0, 0, 0o600)

	report, err := h.runner.Check(context.Background(), mustManifest(t, appManifest))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if h.fs.Mutations() != 0 {
		t.Errorf("Expected no mutations, got %d", h.fs.Mutations())
	}
	if report.Mode != ModeCheck || report.EventCount() != 0 {
		t.Errorf("Expected a check report without events, got %s with %d", report.Mode, report.EventCount())
	}

	rr, _ := report.Resource("/srv/app.conf")
	if rr.Outcome != OutcomeChanged {
		t.Errorf("Expected pending changes, got %s", rr.Outcome)
	}
	if len(rr.Changes) != 4 {
		t.Errorf("Expected owner, group, mode and checksum to be pending, got %+v", rr.Changes)
	}

	if _, err := h.store.GetRun(context.Background(), report.RunID); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("Expected a check run to leave no history, got: %v", err)
	}
	sums, _ := h.store.ListChecksums(context.Background(), "/srv/app.conf")
	if len(sums) != 0 {
		t.Errorf("Expected no checksum baseline, got %v", sums)
	}
}

func TestApply_FailuresDoNotStopTheRun(t *testing.T) {
	h := newHarness(t, 1)
	h.fs.AddFile("/srv/a", nil, 0, 0, 0o600)
	h.fs.AddFile("/srv/b", nil, 0, 0, 0o600)

	m := mustManifest(t, `
resources:
  - path: /srv/a
    owner: ghost
  - path: /srv/unsourced
    source: nowhere
  - path: /srv/b
    mode: 0640
`)
	report, err := h.runner.Apply(context.Background(), m)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Status() != RunStatusPartial {
		t.Errorf("Expected a partial run, got %s", report.Status())
	}
	if len(report.Resources) != 3 {
		t.Fatalf("Expected 3 resource reports, got %d", len(report.Resources))
	}

	if rr, _ := report.Resource("/srv/unsourced"); rr.Outcome != OutcomeFailed || !strings.Contains(rr.Error, "nowhere") {
		t.Errorf("Expected the unknown source to fail the declaration, got %+v", rr)
	}
	if rr, _ := report.Resource("/srv/a"); rr.Outcome != OutcomeFailed {
		t.Errorf("Expected the unresolved owner to fail, got %+v", rr)
	}
	if rr, _ := report.Resource("/srv/b"); rr.Outcome != OutcomeChanged {
		t.Errorf("Expected /srv/b to change, got %+v", rr)
	}
	if info, _ := h.fs.Stat("/srv/b"); info.Mode&fsys.PermMask != 0o640 {
		t.Errorf("Expected 0640, got %04o", info.Mode&fsys.PermMask)
	}

	failed := h.eventsOfType(telemetry.EventTypeResourceFailed)
	if len(failed) != 1 || failed[0].Path != "/srv/a" || failed[0].Data["class"] != "resolution" {
		t.Errorf("Expected one resolution failure for /srv/a, got %+v", failed)
	}

	run, _ := h.store.GetRun(context.Background(), report.RunID)
	if run.Status != stores.RunStatusFailed || run.Error == nil || run.Failures != 2 {
		t.Errorf("Expected a failed run record with 2 failures, got %+v", run)
	}

	events, _ := h.store.ListEvents(context.Background(), report.RunID)
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Path+":"+e.Event)
	}
	want := "/srv/a:failed /srv/b:inode_changed"
	if strings.Join(kinds, " ") != want {
		t.Errorf("Expected stored events %q, got %q", want, strings.Join(kinds, " "))
	}
}

func TestApply_DeclarationOverridesRecursion(t *testing.T) {
	h := newHarness(t, 1)
	h.fs.AddDir("/srv/dir", 0, 0, 0o755)
	h.fs.AddFile("/srv/dir/a", nil, 0, 0, 0o600)
	h.fs.AddFile("/srv/dir/b", nil, 0, 0, 0o600)

	m := mustManifest(t, `
resources:
  - path: /srv/dir
    recurse: 1
    mode: 0640
  - path: /srv/dir/a
    mode: 0600
    owner: app
`)
	report, err := h.runner.Apply(context.Background(), m)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var paths []string
	for _, rr := range report.Resources {
		paths = append(paths, rr.Path)
	}
	if got := strings.Join(paths, " "); got != "/srv/dir /srv/dir/a /srv/dir/b" {
		t.Errorf("Expected each path evaluated once in tree order, got %s", got)
	}

	a, _ := h.fs.Stat("/srv/dir/a")
	if a.Mode&fsys.PermMask != 0o600 || a.UID != 1000 {
		t.Errorf("Expected the explicit declaration for a, got %04o uid %d", a.Mode&fsys.PermMask, a.UID)
	}
	b, _ := h.fs.Stat("/srv/dir/b")
	if b.Mode&fsys.PermMask != 0o640 {
		t.Errorf("Expected b to inherit 0640, got %04o", b.Mode&fsys.PermMask)
	}
}

func TestApply_DriftPublishesEvents(t *testing.T) {
	h := newHarness(t, 1)
	h.fs.AddFile("/srv/app.conf", []byte("hello"), 0, 0, 0o644)
	m := mustManifest(t, "resources:\n  - path: /srv/app.conf\n    checksum: sha256\n")
	ctx := context.Background()

	first, err := h.runner.Apply(ctx, m)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if first.EventCount() != 0 {
		t.Errorf("Expected the baseline run to emit nothing, got %d", first.EventCount())
	}

	if err := h.fs.WriteContent("/srv/app.conf", []byte("goodbye")); err != nil {
		t.Fatal(err)
	}
	second, err := h.runner.Apply(ctx, m)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	changes := second.Resources[0].Events()
	if len(changes) != 1 || changes[0].Event != "file_modified" {
		t.Fatalf("Expected one file_modified event, got %+v", changes)
	}

	drift := h.eventsOfType(telemetry.EventTypeDriftDetected)
	if len(drift) != 1 || drift[0].RunID != second.RunID || drift[0].Data["algorithm"] != "sha256" {
		t.Errorf("Expected one sha256 drift event for the second run, got %+v", drift)
	}
	if n := len(h.eventsOfType(telemetry.EventTypeRunStarted)); n != 2 {
		t.Errorf("Expected 2 run.started events, got %d", n)
	}
	completed := h.eventsOfType(telemetry.EventTypeRunCompleted)
	if len(completed) != 2 || completed[1].Data["status"] != string(RunStatusSucceeded) {
		t.Errorf("Unexpected run.completed events: %+v", completed)
	}
}

func TestApply_ChecksumWithoutValueTracksMD5(t *testing.T) {
	h := newHarness(t, 1)
	h.fs.AddFile("/srv/data", []byte("hello"), 0, 0, 0o644)
	m := mustManifest(t, "resources:\n  - path: /srv/data\n    checksum:\n")
	ctx := context.Background()

	if _, err := h.runner.Apply(ctx, m); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	sums, err := h.store.GetChecksums(ctx, "/srv/data")
	if err != nil {
		t.Fatalf("Expected a baseline after the first run, got: %v", err)
	}
	if sums["md5"] != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("Expected the md5 of hello, got %v", sums)
	}

	if err := h.fs.WriteContent("/srv/data", []byte("goodbye")); err != nil {
		t.Fatal(err)
	}
	report, err := h.runner.Apply(ctx, m)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	changes := report.Resources[0].Events()
	if len(changes) != 1 || changes[0].Event != "file_modified" {
		t.Errorf("Expected one file_modified event, got %+v", changes)
	}
}

func TestApply_ParallelKeepsOrder(t *testing.T) {
	h := newHarness(t, 4)
	var doc strings.Builder
	doc.WriteString("resources:\n")
	var want []string
	for i := 0; i < 12; i++ {
		path := fmt.Sprintf("/srv/file%02d", i)
		h.fs.AddFile(path, nil, 0, 0, 0o600)
		fmt.Fprintf(&doc, "  - path: %s\n    mode: 0644\n", path)
		want = append(want, path)
	}

	report, err := h.runner.Apply(context.Background(), mustManifest(t, doc.String()))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(report.Resources) != len(want) {
		t.Fatalf("Expected %d reports, got %d", len(want), len(report.Resources))
	}
	for i, rr := range report.Resources {
		if rr.Path != want[i] {
			t.Errorf("Report %d: expected %s, got %s", i, want[i], rr.Path)
		}
		if rr.Outcome != OutcomeChanged {
			t.Errorf("%s: expected changed, got %s", rr.Path, rr.Outcome)
		}
	}
	if report.EventCount() != len(want) {
		t.Errorf("Expected %d events, got %d", len(want), report.EventCount())
	}
}

func TestApply_CancelledRunSkipsResources(t *testing.T) {
	h := newHarness(t, 1)
	h.fs.AddFile("/srv/app.conf", nil, 0, 0, 0o600)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.runner.Apply(ctx, mustManifest(t, "resources:\n  - path: /srv/app.conf\n    mode: 0644\n"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Status() != RunStatusFailed || report.Count(OutcomeSkipped) != 1 {
		t.Errorf("Expected one skipped resource, got %s", report.Summary())
	}
	if !errors.Is(report.Err(), context.Canceled) {
		t.Errorf("Expected the cancellation in the run error, got: %v", report.Err())
	}
	if h.fs.Mutations() != 0 {
		t.Errorf("Expected no mutations, got %d", h.fs.Mutations())
	}

	run, err := h.store.GetRun(context.Background(), report.RunID)
	if err != nil || run.Status != stores.RunStatusFailed {
		t.Errorf("Expected the run recorded as failed, got %+v (%v)", run, err)
	}
}

func TestApply_WritesMetricsTextfile(t *testing.T) {
	h := newHarness(t, 1)
	textfile := filepath.Join(t.TempDir(), "converge.prom")
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:      true,
		Namespace:    "converge",
		TextfilePath: textfile,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.tel.Metrics = metrics
	h.fs.AddFile("/srv/app.conf", []byte("hello"), 0, 0, 0o600)

	if _, err := h.runner.Apply(context.Background(), mustManifest(t, appManifest)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, err := os.ReadFile(textfile)
	if err != nil {
		t.Fatalf("Expected the textfile to be written, got: %v", err)
	}
	for _, line := range []string{
		`converge_runs_completed_total{status="succeeded"} 1`,
		`converge_state_syncs_total{attribute="mode",event="inode_changed"} 1`,
		`converge_resources_evaluated_total{outcome="changed"} 1`,
	} {
		if !strings.Contains(string(data), line) {
			t.Errorf("Expected the textfile to contain %s", line)
		}
	}
}
