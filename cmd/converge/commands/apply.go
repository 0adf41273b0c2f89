package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var parallelism int

	cmd := &cobra.Command{
		Use:   "apply [manifest]",
		Short: "Bring files in line with a manifest",
		Long: `Evaluate every resource of a manifest once and change what differs.

This command:
  - Builds one resource per declaration, expanding recursive directories
  - Retrieves, compares and syncs each resource's states
  - Records emitted events and the run in the state store
  - Updates checksum baselines

A failing resource does not stop the others. The command exits non-zero when
any resource failed.`,
		Example: `  # Apply the manifest named in the config file
  converge apply

  # Apply a specific manifest
  converge apply /etc/converge/site.yaml

  # Evaluate four resources at a time
  converge apply site.yaml --parallelism 4`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			m, err := a.manifest(args)
			if err != nil {
				return err
			}
			runner, err := a.runner(cmd.Context(), parallelism)
			if err != nil {
				return err
			}

			report, err := runner.Apply(cmd.Context(), m)
			if err != nil {
				return err
			}
			if err := writeReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Failed() {
				return fmt.Errorf("run %s %s: %d of %d resources failed",
					report.RunID, report.Status(),
					report.Count(engine.OutcomeFailed)+report.Count(engine.OutcomeSkipped), len(report.Resources))
			}
			return nil
		}),
	}

	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 1, "max resources evaluated at once")

	return cmd
}

func newCheckCommand() *cobra.Command {
	var detailedExitCode bool

	cmd := &cobra.Command{
		Use:   "check [manifest]",
		Short: "Report what apply would change",
		Long: `Retrieve and compare every resource of a manifest without changing anything.

Each state that is out of sync is listed with its desired and actual value.
No run history or checksum baseline is recorded.`,
		Example: `  # Show pending changes
  converge check site.yaml

  # Exit with status 2 when changes are pending
  converge check site.yaml --detailed-exitcode`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			m, err := a.manifest(args)
			if err != nil {
				return err
			}
			runner, err := a.runner(cmd.Context(), 1)
			if err != nil {
				return err
			}

			report, err := runner.Check(cmd.Context(), m)
			if err != nil {
				return err
			}
			if err := writeReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}

			if report.Failed() {
				return fmt.Errorf("check %s: %d resources could not be evaluated", report.RunID, report.Count(engine.OutcomeFailed))
			}
			if detailedExitCode && report.Count(engine.OutcomeChanged) > 0 {
				return &ExitError{Code: 2, Err: fmt.Errorf("%d resources out of sync", report.Count(engine.OutcomeChanged))}
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&detailedExitCode, "detailed-exitcode", false, "exit 2 when changes are pending")

	return cmd
}
