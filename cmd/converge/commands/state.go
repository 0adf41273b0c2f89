package commands

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and edit the state store",
		Long: `Inspect recorded checksums and run history, and forget checksum baselines.

The state store holds the checksum recorded for each managed path and
algorithm, the cached host facts, and every applied run with its events.`,
	}

	cmd.AddCommand(newStateShowCommand())
	cmd.AddCommand(newStateForgetCommand())
	cmd.AddCommand(newStateRunCommand())

	return cmd
}

func newStateShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <path>...",
		Short: "Show recorded checksums",
		Example: `  # Show the checksums recorded for a file
  converge state show /etc/motd`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}

			type entry struct {
				Path       string    `json:"path"`
				Algorithm  string    `json:"algorithm"`
				Value      string    `json:"value"`
				RecordedAt time.Time `json:"recorded_at"`
			}
			var entries []entry
			for _, path := range args {
				list, err := store.ListChecksums(cmd.Context(), filepath.Clean(path))
				if err != nil {
					return fmt.Errorf("failed to list checksums of %s: %w", path, err)
				}
				for _, e := range list {
					entries = append(entries, entry{e.Path, e.Algorithm, e.Value, e.RecordedAt})
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tALGORITHM\tVALUE\tRECORDED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Path, e.Algorithm, e.Value, e.RecordedAt.Format(time.RFC3339))
			}
			return w.Flush()
		}),
	}

	return cmd
}

func newStateForgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <path>...",
		Short: "Forget recorded checksums",
		Long: `Forget the checksums recorded for paths. The next apply records a new
baseline for them without reporting file_modified.`,
		Example: `  # Accept the current content of a file
  converge state forget /etc/motd`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			for _, path := range args {
				path = filepath.Clean(path)
				if err := store.DeleteChecksums(cmd.Context(), path); err != nil {
					return fmt.Errorf("failed to forget %s: %w", path, err)
				}
				a.log.Infof("Forgot checksums of %s", path)
			}
			return nil
		}),
	}

	return cmd
}

func newStateRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Show a recorded run and its events",
		Example: `  # Show a run by the ID printed by apply
  converge state run 2f0c9f7e-6a4e-4a59-9dbb-1d8c1b7f2a10`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := store.ListEvents(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"run":    run,
					"events": events,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s: %s\n", run.ID, run.Status)
			fmt.Fprintf(out, "Manifest: %s\n", run.ManifestPath)
			fmt.Fprintf(out, "Started: %s\n", run.StartedAt.Format(time.RFC3339))
			if run.CompletedAt != nil {
				fmt.Fprintf(out, "Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Resources: %d, changes: %d, failures: %d\n", run.Resources, run.Changes, run.Failures)
			if run.Error != nil {
				fmt.Fprintf(out, "Error: %s\n", *run.Error)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Path, e.Attribute, e.Event, e.Message)
			}
			return w.Flush()
		}),
	}

	return cmd
}
