package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/fsys"
	"github.com/openfroyo/converge/pkg/resource"
	"github.com/openfroyo/converge/pkg/stores"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Validate a manifest",
		Long: `Validate a manifest without evaluating it.

This command checks:
  - YAML syntax and unknown keys
  - Required fields and absolute paths
  - Duplicate sources and resource paths
  - Attribute values (modes, checksum algorithms, recursion depths, sources)`,
		Example: `  # Validate the configured manifest
  converge validate

  # Validate a specific manifest
  converge validate ./site.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			m, err := a.manifest(args)
			if err != nil {
				return err
			}

			// Resources are built against an empty filesystem and store so that
			// values are checked without touching the host.
			env := &resource.Environment{
				FS:      fsys.NewMemFS(),
				Memo:    stores.NewMemoryStore(),
				Sources: m.Registry(nil),
				Catalog: resource.NewCatalog(),
			}
			for _, decl := range m.Resources {
				if _, err := resource.New(context.Background(), env, decl.Params()); err != nil {
					return fmt.Errorf("%s: %w", m.Path, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d resources, %d sources\n", m.Path, len(m.Resources), len(m.Sources))
			return nil
		}),
	}

	return cmd
}
