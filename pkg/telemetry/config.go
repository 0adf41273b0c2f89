package telemetry

import (
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// Destinations understood by NewLogger besides absolute file paths.
const (
	DestinationConsole = "console"
	DestinationSyslog  = "syslog"
)

// Config contains the telemetry configuration for the converge agent.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the version of the service.
	ServiceVersion string `yaml:"service_version"`

	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"log"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the log sink.
type LoggingConfig struct {
	// Level sets the minimum level (debug, info, notice, warning, err, alert, emerg, crit).
	Level string `yaml:"level" validate:"required"`

	// Destination is "console", "syslog" or an absolute file path.
	Destination string `yaml:"destination" validate:"required"`

	// Format is "text" or "json".
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`

	// Source is the default message source. Defaults to DefaultSource.
	Source string `yaml:"source"`

	// NoColor disables ANSI colors on the console destination.
	NoColor bool `yaml:"no_color"`

	// Writer overrides stdout for the console destination.
	Writer io.Writer `yaml:"-"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector endpoint, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`

	// MaxExportBatchSize is the maximum batch size for export.
	MaxExportBatchSize int `yaml:"max_export_batch_size"`

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// Headers are additional headers for OTLP exporter.
	Headers map[string]string `yaml:"headers"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `yaml:"enabled"`

	// Namespace is the metrics namespace prefix.
	Namespace string `yaml:"namespace"`

	// TextfilePath, when set, receives the registry in node-exporter textfile
	// format at the end of every run.
	TextfilePath string `yaml:"textfile_path"`

	// ListenAddress serves /metrics while watching. Empty disables the server.
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `yaml:"path"`

	// DefaultHistogramBuckets are the default latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"buckets"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "converge",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:       "notice",
			Destination: DestinationConsole,
			Format:      "text",
			Source:      DefaultSource,
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "converge",
			Path:      "/metrics",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
			},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}

	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("trace endpoint is required for the otlp exporter")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.TextfilePath != "" && !filepath.IsAbs(c.Metrics.TextfilePath) {
		return fmt.Errorf("metrics textfile path must be absolute: %s", c.Metrics.TextfilePath)
	}

	return nil
}

// Validate checks the level, destination and format of a logging config.
func (c LoggingConfig) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}

	switch c.Destination {
	case DestinationConsole, DestinationSyslog:
	default:
		if !filepath.IsAbs(c.Destination) {
			return fmt.Errorf("invalid log destination %q: must be console, syslog or an absolute path", c.Destination)
		}
	}

	if c.Format != "" && c.Format != "text" && c.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", c.Format)
	}

	return nil
}
