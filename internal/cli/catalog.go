package cli

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/specialistvlad/flowlab/internal/app"
)

func newCatalogCommand(o *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the node types of the loaded catalog",
		Long: `Print the node types of the loaded catalog after checking it against
the registered lab modules. --json prints the nested type-address tree
the editor consumes.`,
		Args: markUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				w := cmd.OutOrStdout()
				if asJSON {
					b, err := sonic.ConfigStd.MarshalIndent(a.Types(), "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(w, string(b))
					return nil
				}
				for _, addr := range a.Types().Addresses() {
					nt, err := a.Types().Retrieve(addr)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%-40s %s\n", addr, nt.BaseType)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the type-address tree as JSON.")
	return cmd
}
