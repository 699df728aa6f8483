package app

import (
	"context"
	"fmt"
	"os"

	"github.com/specialistvlad/flowlab/internal/worker"
)

// Run starts the worker pool and the health check server and blocks until
// ctx is cancelled. The pool is then terminated, which autosaves every live
// session before Run returns.
func (a *App) Run(ctx context.Context, opts ...worker.Option) error {
	ctx = a.Context(ctx)
	a.logger.Debug("App.Run method started.")

	if err := os.MkdirAll(a.config.SidecarDir, 0o755); err != nil {
		return fmt.Errorf("failed to create sidecar dir: %w", err)
	}

	tp, err := newTracerProvider(ctx, a.config, a.outW)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("Tracer provider shutdown failed.", "error", err)
		}
	}()
	a.logger.Debug("Tracer provider ready.", "exporter", a.config.TraceExporter)

	opts = append([]worker.Option{
		worker.WithRegisterer(a.metrics),
		worker.WithTracerProvider(tp),
	}, opts...)
	pool, err := worker.New(a.config.WorkerConfig(), a.store, a.SessionFactory(), opts...)
	if err != nil {
		return err
	}

	if err := a.startHealthCheckServer(ctx); err != nil {
		return err
	}
	defer func() { _ = a.closeHealthCheckServer(ctx) }()

	a.logger.Info("🚀 Starting worker pool...", "store", a.config.StoreKind, "workers", a.config.Workers, "node_types", a.types.Len())
	pool.Start(ctx)

	<-ctx.Done()
	a.logger.Info("Shutdown requested.", "cause", context.Cause(ctx))

	if err := pool.Terminate(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	a.logger.Info("🏁 Worker pool stopped.")
	return nil
}
