package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Debounce delays a run after the manifest changes. Defaults to 500ms.
	Debounce time.Duration

	// Interval re-applies the manifest periodically. Zero disables it.
	Interval time.Duration

	// OnRun is called after every run attempt with its report, or with the
	// error that prevented the run.
	OnRun func(*Report, error)
}

// Watcher applies a manifest file whenever it changes.
type Watcher struct {
	runner *Runner
	path   string
	opts   WatchOptions
	log    *telemetry.Logger
}

// NewWatcher creates a watcher for the manifest at path.
func NewWatcher(runner *Runner, path string, opts WatchOptions) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &Watcher{
		runner: runner,
		path:   filepath.Clean(path),
		opts:   opts,
		log:    runner.tel.Logger.WithSource("watch"),
	}
}

// Run applies the manifest once, then again after every change to the file
// and on every interval tick, until ctx is done. Runs never overlap.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so the directory is watched.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.apply(ctx, "startup")

	var tick <-chan time.Time
	if w.opts.Interval > 0 {
		ticker := time.NewTicker(w.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Debounce change events
	trigger := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debugf("Manifest event %s", event.Op)

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.opts.Debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			w.apply(ctx, "manifest changed")

		case <-tick:
			w.apply(ctx, "interval")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Errf("Watch error: %v", err)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, reason string) {
	w.log.Infof("Applying %s (%s)", w.path, reason)

	m, err := config.LoadManifest(w.path)
	if err != nil {
		w.log.Errf("Could not load manifest: %v", err)
		w.notify(nil, err)
		return
	}

	report, err := w.runner.Apply(ctx, m)
	if err != nil {
		w.log.Errf("Run failed: %v", err)
	}
	w.notify(report, err)
}

func (w *Watcher) notify(report *Report, err error) {
	if w.opts.OnRun != nil {
		w.opts.OnRun(report, err)
	}
}
