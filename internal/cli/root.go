package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/flowlab/internal/app"
)

// rootOptions carries the persistent flag values. A flag value only
// overrides the file and environment configuration when it was set on the
// command line.
type rootOptions struct {
	configPath string
	flags      app.Config
}

type binding struct {
	name  string
	apply func(dst *app.Config, src *app.Config)
}

// bindings maps flag names to the Config fields they set.
var bindings = []binding{
	{"store", func(d, s *app.Config) { d.StoreKind = s.StoreKind }},
	{"data-dir", func(d, s *app.Config) { d.DataDir = s.DataDir }},
	{"redis-url", func(d, s *app.Config) { d.RedisURL = s.RedisURL }},
	{"catalog-path", func(d, s *app.Config) { d.CatalogPath = s.CatalogPath }},
	{"sidecar-dir", func(d, s *app.Config) { d.SidecarDir = s.SidecarDir }},
	{"log-format", func(d, s *app.Config) { d.LogFormat = s.LogFormat }},
	{"log-level", func(d, s *app.Config) { d.LogLevel = s.LogLevel }},
	{"example-user", func(d, s *app.Config) { d.ExampleUser = s.ExampleUser }},
	{"workers", func(d, s *app.Config) { d.Workers = s.Workers }},
	{"healthcheck-port", func(d, s *app.Config) { d.HealthcheckPort = s.HealthcheckPort }},
	{"trace-exporter", func(d, s *app.Config) { d.TraceExporter = s.TraceExporter }},
	{"otlp-endpoint", func(d, s *app.Config) { d.OTLPEndpoint = s.OTLPEndpoint }},
	{"dequeue-timeout", func(d, s *app.Config) { d.DequeueTimeout = s.DequeueTimeout }},
	{"drain-interval", func(d, s *app.Config) { d.DrainInterval = s.DrainInterval }},
	{"idle-timeout", func(d, s *app.Config) { d.IdleTimeout = s.IdleTimeout }},
	{"cleanup-interval", func(d, s *app.Config) { d.CleanupInterval = s.CleanupInterval }},
	{"monitor-interval", func(d, s *app.Config) { d.MonitorInterval = s.MonitorInterval }},
}

// NewRootCommand builds the flowlab command tree.
func NewRootCommand() *cobra.Command {
	o := &rootOptions{}
	def := app.DefaultConfig()

	root := &cobra.Command{
		Use:   "flowlab",
		Short: "Worker runtime for interactive node-graph lab sessions",
		Long: `flowlab executes node-graph sessions on behalf of a front end.

Requests are read from a shared queue, applied to the addressed session
and answered with one reply each. Configuration is read from defaults,
an optional HCL file (--config), FLOWLAB_* environment variables and
finally the flags given on the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Path to an HCL configuration file.")
	pf.StringVar(&o.flags.StoreKind, "store", def.StoreKind, "Store backend. Options: 'memory', 'badger', 'redis'.")
	pf.StringVar(&o.flags.DataDir, "data-dir", def.DataDir, "Directory of the badger store.")
	pf.StringVar(&o.flags.RedisURL, "redis-url", def.RedisURL, "Redis URL of the redis store.")
	pf.StringVar(&o.flags.CatalogPath, "catalog-path", def.CatalogPath, "Catalog files or directories replacing the embedded catalog.")
	pf.StringVar(&o.flags.SidecarDir, "sidecar-dir", def.SidecarDir, "Directory for workspace sidecar files.")
	pf.StringVar(&o.flags.LogFormat, "log-format", def.LogFormat, "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&o.flags.LogLevel, "log-level", def.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	root.AddCommand(
		newWorkerCommand(o, def),
		newAdminCommand(o),
		newPurgeCommand(o),
		newExamplesCommand(o, def),
		newCatalogCommand(o),
	)
	return root
}

// resolve layers defaults, the config file, the environment and the flags
// set on cmd, then validates the result.
func (o *rootOptions) resolve(cmd *cobra.Command) (*app.Config, error) {
	cfg := app.DefaultConfig()
	if o.configPath != "" {
		if err := app.ApplyFile(&cfg, o.configPath); err != nil {
			return nil, usageError(err)
		}
	}
	if err := app.ApplyEnv(&cfg); err != nil {
		return nil, usageError(err)
	}
	fs := cmd.Flags()
	for _, b := range bindings {
		if fs.Changed(b.name) {
			b.apply(&cfg, &o.flags)
		}
	}
	resolved, err := app.NewConfig(cfg)
	if err != nil {
		return nil, usageError(fmt.Errorf("invalid configuration: %w", err))
	}
	return resolved, nil
}

// openApp resolves the configuration and builds the App. The returned
// context carries the App's logger. The caller must Close the App.
func (o *rootOptions) openApp(cmd *cobra.Command) (*app.App, context.Context, error) {
	cfg, err := o.resolve(cmd)
	if err != nil {
		return nil, nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.NewApp(ctx, cmd.ErrOrStderr(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, a.Context(ctx), nil
}

// withApp runs fn with an open App and closes it afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) (err error) {
	a, ctx, err := o.openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close()) }()
	return fn(ctx, a)
}

func durationFlag(cmd *cobra.Command, p *time.Duration, name string, def time.Duration, usage string) {
	cmd.Flags().DurationVar(p, name, def, usage)
}
