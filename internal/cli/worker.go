package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/flowlab/internal/app"
)

func newWorkerCommand(o *rootOptions, def app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker pool until interrupted",
		Long: `Run the worker pool: claim queued requests, execute them against their
sessions and write one reply per request. SIGINT or SIGTERM stops the pool
after autosaving every live session.`,
		Args: markUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return a.Run(ctx)
			})
		},
	}

	cmd.Flags().IntVar(&o.flags.Workers, "workers", def.Workers, "Number of concurrent workers.")
	cmd.Flags().IntVar(&o.flags.HealthcheckPort, "healthcheck-port", def.HealthcheckPort, "Port for the health check and metrics server. 0 is disabled.")
	cmd.Flags().StringVar(&o.flags.TraceExporter, "trace-exporter", def.TraceExporter, "Task span exporter. Options: 'none', 'stdout', 'otlp'.")
	cmd.Flags().StringVar(&o.flags.OTLPEndpoint, "otlp-endpoint", def.OTLPEndpoint, "OTLP gRPC collector address for the otlp exporter.")
	durationFlag(cmd, &o.flags.DequeueTimeout, "dequeue-timeout", def.DequeueTimeout, "How long an idle worker waits before rechecking for shutdown.")
	durationFlag(cmd, &o.flags.DrainInterval, "drain-interval", def.DrainInterval, "Delay between request queue drains.")
	durationFlag(cmd, &o.flags.IdleTimeout, "idle-timeout", def.IdleTimeout, "Idle time after which a live session is autosaved and evicted.")
	durationFlag(cmd, &o.flags.CleanupInterval, "cleanup-interval", def.CleanupInterval, "Delay between idle session sweeps.")
	durationFlag(cmd, &o.flags.MonitorInterval, "monitor-interval", def.MonitorInterval, "Delay between usage samples.")
	return cmd
}
