package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/flowlab/internal/app"
	"github.com/specialistvlad/flowlab/internal/ctxlog"
)

func newPurgeCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every queued request and stored reply",
		Long: `Delete every queued request and stored reply. Session records are kept.
Run it while no worker is draining the queue.`,
		Args: markUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Store().Purge(ctx); err != nil {
					return fmt.Errorf("purge: %w", err)
				}
				ctxlog.FromContext(ctx).Info("Request queue purged.", "store", a.Config().StoreKind)
				fmt.Fprintln(cmd.OutOrStdout(), "purged requests and replies")
				return nil
			})
		},
	}
}
