package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/converge/pkg/stores"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// DefaultStatePath is where the sqlite state database lives when no path is
// configured.
const DefaultStatePath = "/var/lib/converge/state.db"

// Config is the agent configuration.
type Config struct {
	// Manifest is the default manifest path for commands that take one.
	Manifest string `yaml:"manifest"`

	Log     telemetry.LoggingConfig `yaml:"log"`
	Store   StoreConfig             `yaml:"store"`
	Facts   FactsConfig             `yaml:"facts"`
	Tracing telemetry.TracingConfig `yaml:"tracing"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
	Watch   WatchConfig             `yaml:"watch"`
}

// StoreConfig selects the persistence backend for checksums, facts and run
// history.
type StoreConfig struct {
	// Driver is sqlite, file or memory.
	Driver string `yaml:"driver" validate:"required,oneof=sqlite file memory"`

	// Path is the database or state file. Ignored by the memory driver.
	Path string `yaml:"path"`

	// History caps the runs kept by the file and memory drivers. Zero keeps
	// the driver default.
	History int `yaml:"history" validate:"gte=0"`
}

// FactsConfig controls host fact collection.
type FactsConfig struct {
	// TTL is how long collected facts stay cached in the store. Zero disables
	// caching.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`

	// TargetID keys cached facts. Defaults to the hostname.
	TargetID string `yaml:"target_id"`

	// Overrides replace collected facts.
	Overrides map[string]string `yaml:"overrides"`
}

// WatchConfig controls `converge watch`.
type WatchConfig struct {
	// Debounce delays a run after the manifest changes.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`

	// Interval re-runs the manifest periodically. Zero disables it.
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		Log: tel.Logging,
		Store: StoreConfig{
			Driver: stores.DriverSQLite,
			Path:   DefaultStatePath,
		},
		Facts: FactsConfig{
			TTL: time.Hour,
		},
		Tracing: tel.Tracing,
		Metrics: tel.Metrics,
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Load reads the configuration file at path. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		cfg.expandEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	path = os.ExpandEnv(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// expandEnv expands environment variables in path-like fields.
func (c *Config) expandEnv() {
	c.Manifest = os.ExpandEnv(c.Manifest)
	c.Log.Destination = os.ExpandEnv(c.Log.Destination)
	c.Store.Path = os.ExpandEnv(c.Store.Path)
	c.Facts.TargetID = os.ExpandEnv(c.Facts.TargetID)
	c.Tracing.Endpoint = os.ExpandEnv(c.Tracing.Endpoint)
	c.Metrics.TextfilePath = os.ExpandEnv(c.Metrics.TextfilePath)
	c.Metrics.ListenAddress = os.ExpandEnv(c.Metrics.ListenAddress)
}

// applyDefaults fills in fields a document left empty.
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "notice"
	}
	if c.Log.Destination == "" {
		c.Log.Destination = telemetry.DestinationConsole
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = stores.DriverSQLite
	}
	if c.Store.Path == "" && c.Store.Driver == stores.DriverSQLite {
		c.Store.Path = DefaultStatePath
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "converge"
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}
}

// Validate checks struct constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s: failed on the '%s' rule", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}

	switch c.Store.Driver {
	case stores.DriverSQLite, stores.DriverFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", c.Store.Driver)
		}
		if c.Store.Path != ":memory:" && !filepath.IsAbs(c.Store.Path) {
			return fmt.Errorf("store.path must be an absolute path: %s", c.Store.Path)
		}
	}

	if c.Manifest != "" && !filepath.IsAbs(c.Manifest) {
		return fmt.Errorf("manifest must be an absolute path: %s", c.Manifest)
	}

	return c.Telemetry().Validate()
}

// Telemetry returns the telemetry configuration for the agent.
func (c *Config) Telemetry() *telemetry.Config {
	tel := telemetry.DefaultConfig()
	tel.Logging = c.Log
	tel.Tracing = c.Tracing
	tel.Metrics = c.Metrics
	return tel
}

// OpenStore constructs, initializes and migrates the configured store.
func (c *Config) OpenStore(ctx context.Context) (stores.Store, error) {
	if c.Store.Driver == stores.DriverSQLite && c.Store.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store, err := stores.Open(c.Store.Driver, c.Store.Path)
	if err != nil {
		return nil, err
	}
	if limited, ok := store.(interface{ SetRunHistory(int) }); ok && c.Store.History > 0 {
		limited.SetRunHistory(c.Store.History)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", c.Store.Driver, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate %s store: %w", c.Store.Driver, err)
	}
	return store, nil
}
