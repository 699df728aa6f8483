package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/flowlab/internal/app"
	"github.com/specialistvlad/flowlab/internal/examples"
)

func newExamplesCommand(o *rootOptions, def app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "Import, export or demote example sessions",
	}

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write every example session to an IFL document",
		Long: `Write every example session to an IFL document. The encoding follows the
file extension: .ifl and .json write JSON, .yaml and .yml write YAML.`,
		Args: markUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				now := time.Now()
				path := out
				if path == "" {
					path = examples.DefaultFileName(now)
				}
				n, err := examples.Export(ctx, a.Store(), path, now)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d examples to %s\n", n, path)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "Output file. Defaults to examples_YYYYMMDD.ifl.")

	var dryRun bool
	imp := &cobra.Command{
		Use:   "import FILE",
		Short: "Add the entries of an IFL document as example sessions",
		Args:  markUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := examples.Import(ctx, a.Store(), args[0], examples.ImportOptions{
					Username: a.Config().ExampleUser,
					DryRun:   dryRun,
				})
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				verb := "imported"
				if dryRun {
					verb = "would import"
				}
				for _, rec := range res.Imported {
					fmt.Fprintf(w, "%3d  %s\n", rec.ListIndex, rec.Title)
				}
				fmt.Fprintf(w, "%s %d examples, renumbered %d\n", verb, len(res.Imported), res.Renumbered)
				return nil
			})
		},
	}
	imp.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and report without writing.")
	imp.Flags().StringVar(&o.flags.ExampleUser, "example-user", def.ExampleUser, "Owner of the imported sessions.")

	demote := &cobra.Command{
		Use:   "demote",
		Short: "Clear the example flag on every session",
		Args:  markUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := examples.Demote(ctx, a.Store())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "demoted %d examples\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(export, imp, demote)
	return cmd
}
