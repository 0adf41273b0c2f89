package engine

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/openfroyo/converge/pkg/resource"
)

// Mode is the kind of run.
type Mode string

const (
	// ModeApply retrieves, compares and syncs.
	ModeApply Mode = "apply"

	// ModeCheck retrieves and compares only.
	ModeCheck Mode = "check"
)

// RunStatus is the overall result of a run.
type RunStatus string

const (
	// RunStatusSucceeded indicates every resource converged or changed cleanly.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates no resource evaluated cleanly.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some resources failed or were skipped.
	RunStatusPartial RunStatus = "partial"
)

// Outcome labels used for resources in reports and metrics.
const (
	OutcomeConverged = "converged"
	OutcomeChanged   = "changed"
	OutcomeAbsent    = "absent"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// StateChange is one out-of-sync state in a report.
type StateChange struct {
	Attribute string      `json:"attribute"`
	Should    interface{} `json:"should,omitempty"`
	Is        interface{} `json:"is,omitempty"`
	Event     string      `json:"event,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ResourceReport is the result of evaluating one resource.
type ResourceReport struct {
	Path     string        `json:"path"`
	Outcome  string        `json:"outcome"`
	Changes  []StateChange `json:"changes,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	err error
}

// Err returns the evaluation error, if any.
func (r *ResourceReport) Err() error { return r.err }

// Events returns the changes that emitted an event.
func (r *ResourceReport) Events() []StateChange {
	var out []StateChange
	for _, c := range r.Changes {
		if c.Event != "" && c.Error == "" {
			out = append(out, c)
		}
	}
	return out
}

func newResourceReport(path string, out *resource.Outcome, err error, d time.Duration) *ResourceReport {
	rr := &ResourceReport{Path: path, Duration: d, err: err}
	if err != nil {
		rr.Error = err.Error()
	}

	if out != nil {
		for _, c := range out.Changes {
			sc := StateChange{
				Attribute: c.Attribute,
				Should:    displayValue(c.Attribute, c.Should),
				Is:        displayValue(c.Attribute, c.Is),
				Event:     string(c.Event),
			}
			if c.Err != nil {
				sc.Error = c.Err.Error()
			}
			rr.Changes = append(rr.Changes, sc)
		}
	}

	switch {
	case err != nil:
		rr.Outcome = OutcomeFailed
	case out != nil && out.Absent && len(out.Changes) == 0:
		rr.Outcome = OutcomeAbsent
	case len(rr.Changes) > 0:
		rr.Outcome = OutcomeChanged
	default:
		rr.Outcome = OutcomeConverged
	}
	return rr
}

// displayValue drops unknown values and renders modes in octal.
func displayValue(attribute string, v interface{}) interface{} {
	n, ok := v.(int)
	switch {
	case !ok:
		return v
	case n == resource.Unknown:
		return nil
	case attribute == resource.AttrMode:
		return fmt.Sprintf("%04o", n)
	}
	return v
}

// Report summarizes one run over a manifest.
type Report struct {
	RunID     string            `json:"run_id"`
	Manifest  string            `json:"manifest"`
	Mode      Mode              `json:"mode"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Resources []*ResourceReport `json:"resources"`
}

// Status returns the overall status of the run.
func (r *Report) Status() RunStatus {
	failed := 0
	for _, rr := range r.Resources {
		if rr.Outcome == OutcomeFailed || rr.Outcome == OutcomeSkipped {
			failed++
		}
	}
	switch {
	case failed == 0:
		return RunStatusSucceeded
	case failed == len(r.Resources):
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// Failed reports whether any resource failed.
func (r *Report) Failed() bool {
	return r.Status() != RunStatusSucceeded
}

// Err joins the errors of every failed resource.
func (r *Report) Err() error {
	var errs []error
	for _, rr := range r.Resources {
		if rr.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rr.Path, rr.err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of resources with outcome.
func (r *Report) Count(outcome string) int {
	n := 0
	for _, rr := range r.Resources {
		if rr.Outcome == outcome {
			n++
		}
	}
	return n
}

// EventCount returns the number of events emitted by the run.
func (r *Report) EventCount() int {
	n := 0
	for _, rr := range r.Resources {
		n += len(rr.Events())
	}
	return n
}

// Resource returns the report for path.
func (r *Report) Resource(path string) (*ResourceReport, bool) {
	for _, rr := range r.Resources {
		if rr.Path == path {
			return rr, true
		}
	}
	return nil, false
}

// Summary is a one-line description of the run.
func (r *Report) Summary() string {
	return fmt.Sprintf("%s run %s %s: %d resources, %d changed, %d failed, %d absent, %d events in %s",
		r.Mode, r.RunID, r.Status(), len(r.Resources),
		r.Count(OutcomeChanged), r.Count(OutcomeFailed), r.Count(OutcomeAbsent),
		r.EventCount(), r.Duration.Round(time.Millisecond))
}

// WriteText writes a human-readable report. In check mode changes are
// listed as pending.
func (r *Report) WriteText(w io.Writer) error {
	resources := make([]*ResourceReport, len(r.Resources))
	copy(resources, r.Resources)
	sort.SliceStable(resources, func(i, j int) bool { return resources[i].Path < resources[j].Path })

	for _, rr := range resources {
		if rr.Outcome == OutcomeConverged {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", rr.Path, rr.Outcome); err != nil {
			return err
		}
		for _, c := range rr.Changes {
			var line string
			switch {
			case c.Error != "":
				line = fmt.Sprintf("  %s: error: %s\n", c.Attribute, c.Error)
			case r.Mode == ModeCheck:
				line = fmt.Sprintf("  %s: would change (should %v, is %v)\n", c.Attribute, display(c.Should), display(c.Is))
			case c.Event != "":
				line = fmt.Sprintf("  %s: %s\n", c.Attribute, c.Event)
			default:
				line = fmt.Sprintf("  %s: recorded\n", c.Attribute)
			}
			if _, err := io.WriteString(w, line); err != nil {
				return err
			}
		}
		if rr.Error != "" && len(rr.Changes) == 0 {
			if _, err := fmt.Fprintf(w, "  error: %s\n", rr.Error); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, r.Summary())
	return err
}

func display(v interface{}) interface{} {
	if v == nil {
		return "(unknown)"
	}
	if n, ok := v.(int); ok {
		return fmt.Sprintf("%d", n)
	}
	return v
}
