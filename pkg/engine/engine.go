package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/facts"
	"github.com/openfroyo/converge/pkg/fsys"
	"github.com/openfroyo/converge/pkg/identity"
	"github.com/openfroyo/converge/pkg/resource"
	"github.com/openfroyo/converge/pkg/source"
	"github.com/openfroyo/converge/pkg/stores"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// Options configures a Runner.
type Options struct {
	// FS is the filesystem resources reconcile against. Required.
	FS fsys.FS

	// Store keeps checksums and run history. Required.
	Store stores.Store

	// Identity resolves symbolic owners and groups. Defaults to the host
	// account files.
	Identity identity.Resolver

	// Facts provides the operating system family.
	Facts facts.Provider

	// Sources is the registry manifest sources are layered on. Defaults to
	// source.Default.
	Sources *source.Registry

	// Telemetry receives logs, spans, metrics and events. Defaults to no-op
	// telemetry.
	Telemetry *telemetry.Telemetry

	// Parallelism bounds the number of resources evaluated at once.
	// Defaults to 1.
	Parallelism int
}

// Runner evaluates manifests. Runs on one Runner are serialized.
type Runner struct {
	opts Options
	tel  *telemetry.Telemetry
	log  *telemetry.Logger

	mu sync.Mutex
}

// NewRunner creates a runner from opts.
func NewRunner(opts Options) (*Runner, error) {
	if opts.FS == nil {
		return nil, errors.New("engine: a filesystem is required")
	}
	if opts.Store == nil {
		return nil, errors.New("engine: a store is required")
	}
	if opts.Identity == nil {
		opts.Identity = identity.NewResolver(identity.NewFilesDatabase())
	}
	if opts.Sources == nil {
		opts.Sources = source.Default
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNopTelemetry()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}

	return &Runner{
		opts: opts,
		tel:  opts.Telemetry,
		log:  opts.Telemetry.Logger.WithSource("engine"),
	}, nil
}

// Apply brings every resource of m in line with its declaration. Run history
// and emitted events are recorded in the store. The returned error is set
// only when the run itself could not be carried out; resource failures are
// in the report.
func (r *Runner) Apply(ctx context.Context, m *config.Manifest) (*Report, error) {
	return r.run(ctx, m, ModeApply)
}

// Check evaluates m without changing the system and without recording run
// history.
func (r *Runner) Check(ctx context.Context, m *config.Manifest) (*Report, error) {
	return r.run(ctx, m, ModeCheck)
}

func (r *Runner) run(ctx context.Context, m *config.Manifest, mode Mode) (*Report, error) {
	if m == nil {
		return nil, errors.New("engine: manifest is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	report := &Report{
		RunID:     uuid.New().String(),
		Manifest:  m.Path,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	log := r.log.WithRunID(report.RunID)
	timer := telemetry.NewTimer()

	ctx, span := r.tel.Tracer.StartRunSpan(ctx, report.RunID, m.Path)

	if mode == ModeApply {
		run := &stores.Run{
			ID:           report.RunID,
			ManifestPath: m.Path,
			Status:       stores.RunStatusRunning,
			StartedAt:    report.StartedAt,
		}
		if err := r.opts.Store.CreateRun(ctx, run); err != nil {
			err = fmt.Errorf("failed to record run: %w", err)
			telemetry.EndSpan(span, err)
			return nil, err
		}
	}

	r.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeRunStarted,
		RunID:   report.RunID,
		Message: fmt.Sprintf("%s run started", mode),
		Data: map[string]interface{}{
			"manifest": m.Path,
			"mode":     string(mode),
		},
	})
	log.Infof("Starting %s run of %d declarations", mode, len(m.Resources))

	env := &resource.Environment{
		FS:       r.opts.FS,
		Identity: r.opts.Identity,
		Facts:    r.opts.Facts,
		Memo:     r.opts.Store,
		Sources:  m.Registry(r.opts.Sources),
		Catalog:  resource.NewCatalog(),
		Logger:   r.tel.Logger,
		Tracer:   r.tel.Tracer,
	}

	resources, rejected := r.declare(ctx, env, m, log)
	report.Resources = append(report.Resources, rejected...)
	report.Resources = append(report.Resources, r.evaluateAll(ctx, resources, mode, report.RunID, log)...)
	report.Duration = timer.Duration()

	r.finish(ctx, report, log)

	span.SetAttributes(telemetry.AttrRunStatus.String(string(report.Status())))
	telemetry.EndSpan(span, report.Err())
	return report, nil
}

// declare builds the manifest's resources and returns them flattened in
// evaluation order: each declaration followed by its recursion tree.
// Declarations that cannot be built are reported as failed.
//
// A declaration naming a path that an earlier recursion already manages
// updates that resource instead.
func (r *Runner) declare(ctx context.Context, env *resource.Environment, m *config.Manifest, log *telemetry.Logger) ([]*resource.Resource, []*ResourceReport) {
	var roots []*resource.Resource
	var rejected []*ResourceReport

	for _, decl := range m.Resources {
		params := decl.Params()

		if existing, ok := env.Catalog.Lookup(filepath.Clean(decl.Path)); ok {
			if err := override(ctx, existing, params); err != nil {
				log.Errf("Could not declare %s: %v", decl.Path, err)
				rejected = append(rejected, newResourceReport(decl.Path, nil, err, 0))
			}
			continue
		}

		res, err := resource.New(ctx, env, params)
		if err != nil {
			log.Errf("Could not declare %s: %v", decl.Path, err)
			rejected = append(rejected, newResourceReport(decl.Path, nil, err, 0))
			continue
		}
		roots = append(roots, res)
	}

	seen := make(map[*resource.Resource]bool)
	var all []*resource.Resource
	for _, root := range roots {
		_ = root.Walk(func(n *resource.Resource) error {
			if !seen[n] {
				seen[n] = true
				all = append(all, n)
			}
			return nil
		})
	}
	return all, rejected
}

// override applies the explicit parameters of a declaration to a resource
// created by recursion. The resource keeps the depth it was expanded with.
func override(ctx context.Context, res *resource.Resource, params resource.Params) error {
	params = params.Clone()
	delete(params, resource.ParamRecurse)
	return res.Update(ctx, params)
}

// evaluate runs one resource and records what happened.
func (r *Runner) evaluate(ctx context.Context, res *resource.Resource, mode Mode, runID string, log *telemetry.Logger) *ResourceReport {
	ctx, span := r.tel.Tracer.StartResourceSpan(ctx, res.Path())
	timer := telemetry.NewTimer()

	var out *resource.Outcome
	var err error
	if mode == ModeApply {
		out, err = res.Evaluate(ctx)
	} else {
		out, err = res.Check(ctx)
	}

	rr := newResourceReport(res.Path(), out, err, timer.Duration())
	telemetry.EndSpan(span, err)
	r.tel.Metrics.RecordResourceEvaluated(rr.Outcome, rr.Duration)

	if out != nil {
		for _, change := range out.Changes {
			r.record(ctx, res, change, mode, runID, log)
		}
	}
	return rr
}

// record publishes one change and, when applying, appends it to the run's
// event history.
func (r *Runner) record(ctx context.Context, res *resource.Resource, c resource.Change, mode Mode, runID string, log *telemetry.Logger) {
	switch {
	case c.Err != nil:
		class := resource.ClassOf(c.Err)
		r.tel.Metrics.RecordSyncFailure(c.Attribute, class)
		r.tel.Events.Publish(telemetry.Event{
			Type:      telemetry.EventTypeResourceFailed,
			RunID:     runID,
			Path:      res.Path(),
			Attribute: c.Attribute,
			Message:   c.Err.Error(),
			Data:      map[string]interface{}{"class": class},
		})
		if mode == ModeApply {
			r.appendEvent(ctx, log, &stores.Event{
				RunID:     runID,
				Path:      res.Path(),
				Attribute: c.Attribute,
				Event:     OutcomeFailed,
				Message:   c.Err.Error(),
			})
		}

	case c.Event != resource.EventNone:
		message := fmt.Sprintf("%s changed from %v to %v", c.Attribute, display(displayValue(c.Attribute, c.Is)), display(displayValue(c.Attribute, c.Should)))
		r.tel.Metrics.RecordStateSync(c.Attribute, string(c.Event))
		r.appendEvent(ctx, log, &stores.Event{
			RunID:     runID,
			Path:      res.Path(),
			Attribute: c.Attribute,
			Event:     string(c.Event),
			Message:   message,
		})
		r.tel.Events.Publish(telemetry.Event{
			Type:      telemetry.EventTypeResourceChanged,
			RunID:     runID,
			Path:      res.Path(),
			Attribute: c.Attribute,
			Message:   message,
			Data:      map[string]interface{}{"event": string(c.Event)},
		})

		if c.Attribute == resource.AttrChecksum && c.Event == resource.EventFileModified {
			algorithm := ""
			if sum, ok := res.State(resource.AttrChecksum).(*resource.Checksum); ok {
				algorithm = sum.Algorithm()
			}
			r.tel.Metrics.RecordDriftDetection(algorithm)
			r.tel.Events.Publish(telemetry.Event{
				Type:      telemetry.EventTypeDriftDetected,
				RunID:     runID,
				Path:      res.Path(),
				Attribute: c.Attribute,
				Message:   fmt.Sprintf("content of %s changed", res.Path()),
				Data:      map[string]interface{}{"algorithm": algorithm},
			})
		}
	}
}

func (r *Runner) appendEvent(ctx context.Context, log *telemetry.Logger, event *stores.Event) {
	event.ID = uuid.New().String()
	event.Timestamp = time.Now().UTC()
	if err := r.opts.Store.AppendEvent(ctx, event); err != nil {
		log.Warningf("Could not record event for %s: %v", event.Path, err)
	}
}

// finish records the run's metrics, history and completion event.
func (r *Runner) finish(ctx context.Context, report *Report, log *telemetry.Logger) {
	status := report.Status()
	r.tel.Metrics.RecordRunCompleted(string(status), report.Duration)
	if err := r.tel.Metrics.WriteTextfile(); err != nil {
		log.Warningf("%v", err)
	}

	if report.Mode == ModeApply {
		completedAt := time.Now().UTC()
		run := &stores.Run{
			ID:           report.RunID,
			ManifestPath: report.Manifest,
			Status:       stores.RunStatusCompleted,
			StartedAt:    report.StartedAt,
			CompletedAt:  &completedAt,
			Resources:    len(report.Resources),
			Changes:      report.EventCount(),
			Failures:     report.Count(OutcomeFailed) + report.Count(OutcomeSkipped),
		}
		if err := report.Err(); err != nil {
			run.Status = stores.RunStatusFailed
			msg := err.Error()
			run.Error = &msg
		}
		// The run context may already be cancelled.
		if err := r.opts.Store.CompleteRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warningf("Could not record run completion: %v", err)
		}
	}

	r.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeRunCompleted,
		RunID:   report.RunID,
		Message: report.Summary(),
		Data: map[string]interface{}{
			"status":  string(status),
			"changes": report.EventCount(),
			"failed":  report.Count(OutcomeFailed),
		},
	})

	if report.Failed() {
		log.Warning(report.Summary())
	} else {
		log.Notice(report.Summary())
	}
}
