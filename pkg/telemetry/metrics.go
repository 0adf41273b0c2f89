package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for reconciliation runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastRun       prometheus.Gauge

	// Resource metrics
	resourcesEvaluated *prometheus.CounterVec
	evaluationDuration prometheus.Histogram

	// State metrics
	stateSyncs   *prometheus.CounterVec
	syncFailures *prometheus.CounterVec

	// Drift detection metrics
	driftDetections *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of reconciliation runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of reconciliation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed run",
			},
		),

		resourcesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_evaluated_total",
				Help:      "Total number of resources evaluated by outcome",
			},
			[]string{"outcome"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_evaluation_duration_seconds",
				Help:      "Duration of a single resource evaluation in seconds",
				Buckets:   buckets,
			},
		),

		stateSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_syncs_total",
				Help:      "Total number of state syncs that produced an event",
			},
			[]string{"attribute", "event"},
		),
		syncFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_sync_failures_total",
				Help:      "Total number of failed state syncs by error class",
			},
			[]string{"attribute", "class"},
		),

		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of checksum drifts detected",
			},
			[]string{"algorithm"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.lastRun,
		m.resourcesEvaluated,
		m.evaluationDuration,
		m.stateSyncs,
		m.syncFailures,
		m.driftDetections,
	)

	return m, nil
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Run Metrics

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.lastRun.SetToCurrentTime()
}

// Resource Metrics

// RecordResourceEvaluated records one resource evaluation and its outcome
// (converged, changed, failed).
func (m *Metrics) RecordResourceEvaluated(outcome string, duration time.Duration) {
	if m.resourcesEvaluated == nil {
		return
	}
	m.resourcesEvaluated.WithLabelValues(outcome).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

// State Metrics

// RecordStateSync records a state sync that emitted event.
func (m *Metrics) RecordStateSync(attribute, event string) {
	if m.stateSyncs == nil {
		return
	}
	m.stateSyncs.WithLabelValues(attribute, event).Inc()
}

// RecordSyncFailure records a failed state sync.
func (m *Metrics) RecordSyncFailure(attribute, class string) {
	if m.syncFailures == nil {
		return
	}
	m.syncFailures.WithLabelValues(attribute, class).Inc()
}

// Drift Metrics

// RecordDriftDetection records a checksum drift for algorithm.
func (m *Metrics) RecordDriftDetection(algorithm string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(algorithm).Inc()
}

// WriteTextfile writes the registry to the configured textfile path in the
// node-exporter textfile collector format. It is a no-op without a path.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// server should be shut down by the caller; it is nil when nothing was started.
func (m *Metrics) StartMetricsServer(logger *Logger) *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			logger.Errf("metrics server error: %v", err)
		}
	}()

	return server
}
