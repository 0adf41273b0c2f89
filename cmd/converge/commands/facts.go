package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/facts"
)

func newFactsCommand() *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Show host facts",
		Long: `Show the host facts converge resolves resources against.

Facts are collected from the running host, cached in the state store for
facts.ttl and overridden by facts.overrides from the config file. The
Operatingsystem fact selects which group database field holds the numeric
group id.`,
		Example: `  # Show all facts
  converge facts

  # Show one fact as JSON
  converge facts --name Operatingsystem --json`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			provider, err := a.facts(cmd.Context())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				names = facts.Names()
			}

			values, missing := facts.Collect(provider, names)
			for _, name := range missing {
				a.log.Warningf("Fact %s is not available", name)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), values)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range names {
				if v, ok := values[name]; ok {
					fmt.Fprintf(w, "%s\t%s\n", name, v)
				}
			}
			return w.Flush()
		}),
	}

	cmd.Flags().StringSliceVarP(&names, "name", "n", nil, "facts to show (default all)")

	return cmd
}
