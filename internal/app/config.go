package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/kelseyhightower/envconfig"

	"github.com/specialistvlad/flowlab/internal/worker"
)

// Store backends selectable with StoreKind.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "FLOWLAB"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	StoreKind string `envconfig:"STORE"`
	DataDir   string `envconfig:"DATA_DIR"`
	RedisURL  string `envconfig:"REDIS_URL"`

	// CatalogPath lists catalog files or directories, separated like PATH.
	// It replaces the embedded catalog when set.
	CatalogPath string `envconfig:"CATALOG_PATH"`
	SidecarDir  string `envconfig:"SIDECAR_DIR"`

	Workers         int           `envconfig:"WORKERS"`
	DequeueTimeout  time.Duration `envconfig:"DEQUEUE_TIMEOUT"`
	DrainInterval   time.Duration `envconfig:"DRAIN_INTERVAL"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL"`
	MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL"`

	HealthcheckPort int    `envconfig:"HEALTHCHECK_PORT"`
	LogFormat       string `envconfig:"LOG_FORMAT"`
	LogLevel        string `envconfig:"LOG_LEVEL"`

	// TraceExporter selects where task spans go: 'none', 'stdout' (the log
	// writer) or 'otlp' (a gRPC collector at OTLPEndpoint).
	TraceExporter string `envconfig:"TRACE_EXPORTER"`
	OTLPEndpoint  string `envconfig:"OTLP_ENDPOINT"`

	// ExampleUser owns imported example sessions.
	ExampleUser string `envconfig:"EXAMPLE_USER"`
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() Config {
	w := worker.DefaultConfig()
	return Config{
		StoreKind:       StoreBadger,
		DataDir:         "data",
		SidecarDir:      "data/sidecars",
		Workers:         w.Workers,
		DequeueTimeout:  w.DequeueTimeout,
		DrainInterval:   w.DrainInterval,
		IdleTimeout:     w.IdleTimeout,
		CleanupInterval: w.CleanupInterval,
		MonitorInterval: w.MonitorInterval,
		LogFormat:       "json",
		LogLevel:        "info",
		TraceExporter:   TraceNone,
		OTLPEndpoint:    "localhost:4317",
		ExampleUser:     "examples",
	}
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	var errs []error
	switch cfg.StoreKind {
	case StoreMemory:
	case StoreBadger:
		if cfg.DataDir == "" {
			errs = append(errs, errors.New("data dir is required for the badger store"))
		}
	case StoreRedis:
		if cfg.RedisURL == "" {
			errs = append(errs, errors.New("redis url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid store %q: must be 'memory', 'badger' or 'redis'", cfg.StoreKind))
	}
	if cfg.SidecarDir == "" {
		errs = append(errs, errors.New("sidecar dir cannot be empty"))
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat))
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel))
	}
	switch cfg.TraceExporter {
	case TraceNone, TraceStdout:
	case TraceOTLP:
		if cfg.OTLPEndpoint == "" {
			errs = append(errs, errors.New("otlp endpoint is required for the otlp trace exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid trace exporter %q: must be 'none', 'stdout' or 'otlp'", cfg.TraceExporter))
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort))
	}
	if err := cfg.WorkerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WorkerConfig derives the worker pool configuration.
func (c Config) WorkerConfig() worker.Config {
	w := worker.DefaultConfig()
	w.Workers = c.Workers
	w.DequeueTimeout = c.DequeueTimeout
	w.DrainInterval = c.DrainInterval
	w.IdleTimeout = c.IdleTimeout
	w.CleanupInterval = c.CleanupInterval
	w.MonitorInterval = c.MonitorInterval
	return w
}

// ApplyEnv overrides cfg with the FLOWLAB_* environment variables that are
// set. Unset variables leave their field alone.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("processing environment configuration: %w", err)
	}
	return nil
}

// fileConfig is the HCL form of Config. Every attribute is optional and
// durations are written as strings such as "30m".
type fileConfig struct {
	Store           *string `hcl:"store,optional"`
	DataDir         *string `hcl:"data_dir,optional"`
	RedisURL        *string `hcl:"redis_url,optional"`
	CatalogPath     *string `hcl:"catalog_path,optional"`
	SidecarDir      *string `hcl:"sidecar_dir,optional"`
	Workers         *int    `hcl:"workers,optional"`
	DequeueTimeout  *string `hcl:"dequeue_timeout,optional"`
	DrainInterval   *string `hcl:"drain_interval,optional"`
	IdleTimeout     *string `hcl:"idle_timeout,optional"`
	CleanupInterval *string `hcl:"cleanup_interval,optional"`
	MonitorInterval *string `hcl:"monitor_interval,optional"`
	HealthcheckPort *int    `hcl:"healthcheck_port,optional"`
	LogFormat       *string `hcl:"log_format,optional"`
	LogLevel        *string `hcl:"log_level,optional"`
	TraceExporter   *string `hcl:"trace_exporter,optional"`
	OTLPEndpoint    *string `hcl:"otlp_endpoint,optional"`
	ExampleUser     *string `hcl:"example_user,optional"`
}

// ApplyFile overrides cfg with the attributes set in the HCL file at path.
func ApplyFile(cfg *Config, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return ApplySource(cfg, path, src)
}

// ApplySource is ApplyFile for an in-memory document.
func ApplySource(cfg *Config, filename string, src []byte) error {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse %s: %w", filename, diags)
	}
	var fc fileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &fc); diags.HasErrors() {
		return fmt.Errorf("failed to decode %s: %w", filename, diags)
	}
	return fc.apply(cfg)
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.StoreKind, fc.Store)
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.RedisURL, fc.RedisURL)
	setString(&cfg.CatalogPath, fc.CatalogPath)
	setString(&cfg.SidecarDir, fc.SidecarDir)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.TraceExporter, fc.TraceExporter)
	setString(&cfg.OTLPEndpoint, fc.OTLPEndpoint)
	setString(&cfg.ExampleUser, fc.ExampleUser)
	if fc.Workers != nil {
		cfg.Workers = *fc.Workers
	}
	if fc.HealthcheckPort != nil {
		cfg.HealthcheckPort = *fc.HealthcheckPort
	}

	var errs []error
	for _, d := range []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"dequeue_timeout", fc.DequeueTimeout, &cfg.DequeueTimeout},
		{"drain_interval", fc.DrainInterval, &cfg.DrainInterval},
		{"idle_timeout", fc.IdleTimeout, &cfg.IdleTimeout},
		{"cleanup_interval", fc.CleanupInterval, &cfg.CleanupInterval},
		{"monitor_interval", fc.MonitorInterval, &cfg.MonitorInterval},
	} {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
			continue
		}
		*d.dst = v
	}
	return errors.Join(errs...)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
