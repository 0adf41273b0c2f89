package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	var (
		parallelism int
		debounce    time.Duration
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [manifest]",
		Short: "Apply a manifest whenever it changes",
		Long: `Apply a manifest at startup, then again every time the file changes.

Changes are debounced so that an editor saving several times triggers one
run. With --interval the manifest is also re-applied periodically, which
corrects drift introduced outside converge. Metrics are served while
watching when metrics.listen_address is configured.`,
		Example: `  # Watch the configured manifest
  converge watch

  # Also re-apply every 30 minutes
  converge watch site.yaml --interval 30m`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			path, err := a.manifestPath(args)
			if err != nil {
				return err
			}
			runner, err := a.runner(cmd.Context(), parallelism)
			if err != nil {
				return err
			}

			if server := a.tel.Metrics.StartMetricsServer(a.log); server != nil {
				a.log.Infof("Serving metrics on %s", a.cfg.Metrics.ListenAddress)
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(ctx)
				}()
			}

			opts := engine.WatchOptions{
				Debounce: a.cfg.Watch.Debounce,
				Interval: a.cfg.Watch.Interval,
				OnRun: func(report *engine.Report, err error) {
					if report == nil {
						return
					}
					if jsonOutput {
						_ = printJSON(cmd.OutOrStdout(), report)
						return
					}
					fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
				},
			}
			if cmd.Flags().Changed("debounce") {
				opts.Debounce = debounce
			}
			if cmd.Flags().Changed("interval") {
				opts.Interval = interval
			}

			a.log.Noticef("Watching %s", path)
			return engine.NewWatcher(runner, path, opts).Run(cmd.Context())
		}),
	}

	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 1, "max resources evaluated at once")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "delay before applying a changed manifest")
	cmd.Flags().DurationVar(&interval, "interval", 0, "re-apply periodically (0 disables)")

	return cmd
}
