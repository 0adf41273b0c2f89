package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/facts"
	"github.com/openfroyo/converge/pkg/fsys"
	"github.com/openfroyo/converge/pkg/identity"
	"github.com/openfroyo/converge/pkg/stores"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// app is what a command runs against: the loaded configuration, telemetry and
// a store opened on first use.
type app struct {
	cfg   *config.Config
	tel   *telemetry.Telemetry
	log   *telemetry.Logger
	state stores.Store
}

// withApp loads the configuration and telemetry for fn and releases them on
// every return path.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := a.close(); err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, args, a)
	}
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if storeDriver != "" {
		cfg.Store.Driver = storeDriver
	}
	if statePath != "" {
		cfg.Store.Path = statePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	telCfg := cfg.Telemetry()
	telCfg.ServiceVersion = serviceVersion
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg: cfg,
		tel: tel,
		log: tel.Logger.WithSource("converge"),
	}, nil
}

// close closes the store and then flushes telemetry.
func (a *app) close() error {
	var errs []error
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs = append(errs, a.tel.Shutdown(ctx))
	return errors.Join(errs...)
}

func (a *app) store(ctx context.Context) (stores.Store, error) {
	if a.state != nil {
		return a.state, nil
	}
	store, err := a.cfg.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	a.state = store
	return store, nil
}

// facts returns the host fact provider: collected locally, cached in the store
// when a TTL is configured, with configured overrides on top.
func (a *app) facts(ctx context.Context) (facts.Provider, error) {
	var provider facts.Provider = facts.NewLocal()
	if a.cfg.Facts.TTL > 0 {
		store, err := a.store(ctx)
		if err != nil {
			return nil, err
		}
		target := a.cfg.Facts.TargetID
		if target == "" {
			if target, err = os.Hostname(); err != nil || target == "" {
				target = "localhost"
			}
		}
		provider = facts.NewCached(store, provider, target, a.cfg.Facts.TTL)
	}
	return facts.Overlay(provider, a.cfg.Facts.Overrides), nil
}

func (a *app) runner(ctx context.Context, parallelism int) (*engine.Runner, error) {
	store, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	provider, err := a.facts(ctx)
	if err != nil {
		return nil, err
	}
	return engine.NewRunner(engine.Options{
		FS:          fsys.OS{},
		Store:       store,
		Identity:    identity.NewResolver(identity.NewFilesDatabase()),
		Facts:       provider,
		Telemetry:   a.tel,
		Parallelism: parallelism,
	})
}

// manifestPath returns the manifest named on the command line, or the
// configured one.
func (a *app) manifestPath(args []string) (string, error) {
	path := a.cfg.Manifest
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return "", errors.New("no manifest given: pass a path or set manifest in the config file")
	}
	return filepath.Abs(path)
}

func (a *app) manifest(args []string) (*config.Manifest, error) {
	path, err := a.manifestPath(args)
	if err != nil {
		return nil, err
	}
	return config.LoadManifest(path)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReport(w io.Writer, report *engine.Report) error {
	if jsonOutput {
		return printJSON(w, report)
	}
	return report.WriteText(w)
}
