package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/source"
)

func newSourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources [manifest]",
		Short: "List named file sources",
		Long: `List the named sources resources can refer to with the source attribute.

Sources declared in a manifest are layered over the built-in registry; a
manifest source replaces a built-in one of the same name.`,
		Example: `  # List the sources of a manifest
  converge sources site.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			reg := source.Default
			if len(args) > 0 || a.cfg.Manifest != "" {
				m, err := a.manifest(args)
				if err != nil {
					return err
				}
				reg = m.Registry(source.Default)
			}

			var list []*source.Source
			for _, name := range reg.Names() {
				if src, ok := reg.Lookup(name); ok {
					list = append(list, src)
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLOCATION\tDESCRIPTION")
			for _, src := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", src.Name, src.Location, src.Description)
			}
			return w.Flush()
		}),
	}

	return cmd
}
