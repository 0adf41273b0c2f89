package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	logLevel    string
	storeDriver string
	statePath   string
	jsonOutput  bool

	// serviceVersion is reported by traces.
	serviceVersion = "dev"
)

// ExitError carries a process exit code other than 1.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit code for an error returned by Execute.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	serviceVersion = version

	rootCmd := &cobra.Command{
		Use:   "converge",
		Short: "converge - file state reconciliation agent",
		Long: `converge brings files and directories in line with a declared state.

Each resource in a manifest declares the desired existence, owner, group,
setuid bit, permission mode and content checksum of a path. converge
retrieves the actual state, compares it and changes what differs,
reporting one event per change:
  - file_created when a missing file is created
  - inode_changed when ownership or permissions change
  - file_modified when content drifts from the recorded checksum`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override the configured log level")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "override the store driver (sqlite, file, memory)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "override the store path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newSourcesCommand())

	return rootCmd
}
