package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/specialistvlad/flowlab/catalog"
	"github.com/specialistvlad/flowlab/internal/badgerstore"
	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/inmemorystore"
	"github.com/specialistvlad/flowlab/internal/redisstore"
	"github.com/specialistvlad/flowlab/internal/registry"
	"github.com/specialistvlad/flowlab/internal/session"
	"github.com/specialistvlad/flowlab/internal/store"
	"github.com/specialistvlad/flowlab/internal/typetree"
	"github.com/specialistvlad/flowlab/internal/worker"
	"github.com/specialistvlad/flowlab/internal/workspace"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *registry.Registry
	types    *typetree.Tree
	store    store.Store
	engine   *workspace.Engine
	metrics  *prometheus.Registry

	httpServer *http.Server
	closeOnce  sync.Once
}

// NewApp is the constructor for the main application. It loads and checks
// the catalog against the registered modules and opens the configured
// store. The caller must Close the returned App.
func NewApp(ctx context.Context, outW io.Writer, cfg *Config, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	reg.Register(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules))

	types, err := loadCatalog(ctx, cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := reg.ValidateCatalog(ctx, types); err != nil {
		return nil, err
	}
	logger.Debug("Catalog validation passed.", "node_types", types.Len())

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreKind, err)
	}
	logger.Debug("Store opened.", "store", cfg.StoreKind)

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		types:    types,
		store:    st,
		engine:   workspace.NewEngine(reg),
		metrics:  metrics,
	}, nil
}

// loadCatalog reads the catalog files under path, or the embedded catalog
// when path is empty.
func loadCatalog(ctx context.Context, path string) (*typetree.Tree, error) {
	loader := typetree.NewLoader()
	if path == "" {
		return loader.LoadFS(ctx, catalog.FS)
	}
	tree, err := loader.LoadFiles(ctx, filepath.SplitList(path)...)
	if err != nil {
		return nil, err
	}
	if tree.Len() == 0 {
		return nil, fmt.Errorf("no node types found under %s", path)
	}
	return tree, nil
}

func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreKind {
	case StoreMemory:
		return inmemorystore.New(), nil
	case StoreBadger:
		bc := badgerstore.DefaultConfig(filepath.Join(cfg.DataDir, "badger"))
		bc.Logger = logger.With("component", "badger")
		return badgerstore.Open(bc)
	case StoreRedis:
		return redisstore.Open(ctx, redisstore.Config{URL: cfg.RedisURL})
	}
	return nil, fmt.Errorf("unknown store %q", cfg.StoreKind)
}

// Context returns ctx carrying the application logger.
func (a *App) Context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// Config returns the validated configuration.
func (a *App) Config() *Config {
	return a.config
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Types returns the loaded node-type catalog.
func (a *App) Types() *typetree.Tree {
	return a.types
}

// Store returns the persistence backend.
func (a *App) Store() store.Store {
	return a.store
}

// Client returns a request client on the application's store.
func (a *App) Client() *worker.Client {
	return &worker.Client{Store: a.store, Timeout: worker.DefaultReplyTimeout}
}

// SessionFactory builds the factory the worker pool creates sessions with.
// All sessions of one App share its workspace engine and execution lock.
func (a *App) SessionFactory() *session.Factory {
	return &session.Factory{
		Types:      a.types,
		Library:    a.registry,
		Engine:     a.engine,
		Lock:       &sync.Mutex{},
		SidecarDir: a.config.SidecarDir,
	}
}

// Close stops the health check server and closes the store.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		ctx := a.Context(context.Background())
		err = errors.Join(a.closeHealthCheckServer(ctx), a.store.Close())
	})
	return err
}
