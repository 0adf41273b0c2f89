// Package engine runs manifests of file resources.
//
// # Runs
//
// A Runner builds one resource per manifest declaration, expands recursive
// declarations into their directory trees and evaluates every resource once.
// Apply syncs out-of-sync states; Check only reports them.
//
//	runner, err := engine.NewRunner(engine.Options{
//	    FS:    fsys.OS{},
//	    Store: store,
//	    Facts: facts.NewLocal(),
//	})
//	report, err := runner.Apply(ctx, manifest)
//	fmt.Println(report.Summary())
//
// A declaration that cannot be built, or a resource whose states fail, is
// reported as failed without stopping the rest of the run. The run error is
// reserved for failures of the run itself, such as the store refusing to
// record it.
//
// # Recording
//
// During Apply every emitted event and every sync failure is appended to the
// store under the run ID, and the run's final status and counters are stored
// once it completes. Both modes publish run.started, resource.changed,
// resource.failed, drift.detected and run.completed events, record Prometheus
// metrics and trace the run, each resource and each sync.
//
// # Watching
//
// A Watcher applies a manifest at startup and again whenever the file
// changes, optionally on an interval as well. Change notifications are
// debounced and runs never overlap.
package engine
