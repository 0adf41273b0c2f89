package engine

import (
	"context"
	"sync"

	"github.com/openfroyo/converge/pkg/resource"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// evaluateAll evaluates resources on a worker pool bounded by the runner's
// parallelism. Reports keep the order of resources. Resources that have not
// started when ctx is cancelled are reported as skipped.
func (r *Runner) evaluateAll(
	ctx context.Context,
	resources []*resource.Resource,
	mode Mode,
	runID string,
	log *telemetry.Logger,
) []*ResourceReport {
	reports := make([]*ResourceReport, len(resources))
	if len(resources) == 0 {
		return reports
	}

	// Determine worker count (min of parallelism and number of resources)
	workerCount := r.opts.Parallelism
	if len(resources) < workerCount {
		workerCount = len(resources)
	}

	// Create work queue
	workQueue := make(chan int, len(resources))
	for i := range resources {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range workQueue {
				res := resources[idx]

				// Check for cancellation
				select {
				case <-ctx.Done():
					reports[idx] = skipped(res, ctx.Err())
					continue
				default:
				}

				reports[idx] = r.evaluate(ctx, res, mode, runID, log)
			}
		}()
	}

	wg.Wait()

	if n := countOutcome(reports, OutcomeSkipped); n > 0 {
		log.Warningf("Run cancelled, %d resources skipped", n)
	}
	return reports
}

func skipped(res *resource.Resource, err error) *ResourceReport {
	rr := newResourceReport(res.Path(), nil, err, 0)
	rr.Outcome = OutcomeSkipped
	return rr
}

func countOutcome(reports []*ResourceReport, outcome string) int {
	n := 0
	for _, rr := range reports {
		if rr.Outcome == outcome {
			n++
		}
	}
	return n
}
