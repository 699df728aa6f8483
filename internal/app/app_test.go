package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/flowlab/internal/registry"
	"github.com/specialistvlad/flowlab/internal/store"
	"github.com/specialistvlad/flowlab/internal/testutil"
	"github.com/specialistvlad/flowlab/internal/worker"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StoreKind = StoreMemory
	cfg.SidecarDir = filepath.Join(t.TempDir(), "sidecars")
	cfg.LogLevel = "debug"
	cfg.LogFormat = "text"
	cfg.Workers = 2
	cfg.DrainInterval = 5 * time.Millisecond
	cfg.DequeueTimeout = 10 * time.Millisecond
	c, err := NewConfig(cfg)
	require.NoError(t, err)
	return c
}

// setupApp creates an App that logs into the returned buffer.
func setupApp(t *testing.T, cfg *Config, modules ...registry.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()
	logs := &testutil.SafeBuffer{}
	a, err := NewApp(context.Background(), logs, cfg, modules...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	t.Cleanup(func() {
		if os.Getenv("FLOWLAB_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return a, logs
}

func TestNewApp_EmbeddedCatalog(t *testing.T) {
	a, logs := setupApp(t, testConfig(t))
	assert.Greater(t, a.Types().Len(), 10)
	assert.Contains(t, a.Registry().FunctionNames(), "Colour")
	assert.Contains(t, logs.String(), "Catalog validation passed.")
}

func TestNewApp_CustomCatalog(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"testing.hcl": testutil.RecorderCatalog})
	cfg := testConfig(t)
	cfg.CatalogPath = dir

	a, _ := setupApp(t, cfg, &testutil.RecorderModule{})
	assert.Equal(t, 3, a.Types().Len())
}

func TestNewApp_Failures(t *testing.T) {
	t.Run("catalog names unregistered code", func(t *testing.T) {
		dir := testutil.WriteFiles(t, map[string]string{"testing.hcl": testutil.RecorderCatalog})
		cfg := testConfig(t)
		cfg.CatalogPath = dir
		_, err := NewApp(context.Background(), &testutil.SafeBuffer{}, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "function 'shout' is not registered")
	})

	t.Run("empty catalog dir", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.CatalogPath = t.TempDir()
		_, err := NewApp(context.Background(), &testutil.SafeBuffer{}, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no node types found")
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.StoreKind = StoreRedis
		cfg.RedisURL = "not a url"
		_, err := NewApp(context.Background(), &testutil.SafeBuffer{}, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open redis store")
	})
}

func TestNewApp_BadgerStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreKind = StoreBadger
	cfg.DataDir = t.TempDir()

	a, _ := setupApp(t, cfg)
	ctx := context.Background()
	require.NoError(t, a.Store().CreateSession(ctx, store.SessionRecord{ID: "gs-1"}))
	_, err := a.Store().Session(ctx, "gs-1")
	require.NoError(t, err)
}

func TestHealthMux(t *testing.T) {
	a, _ := setupApp(t, testConfig(t))
	srv := httptest.NewServer(a.healthMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRun_ServesRequestsAndAutosavesOnShutdown(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"testing.hcl": testutil.RecorderCatalog})
	cfg := testConfig(t)
	cfg.CatalogPath = dir
	cfg.TraceExporter = TraceStdout
	recorder := &testutil.RecorderModule{}
	a, logs := setupApp(t, cfg, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	client := a.Client()
	client.PollInterval = 5 * time.Millisecond
	client.Timeout = 5 * time.Second

	created, err := client.Do(ctx, store.Request{Username: "ada", Command: string(worker.CmdNew)})
	require.NoError(t, err)
	require.Empty(t, created.FatalError)
	require.NotEmpty(t, created.SessionID)

	payload := json.RawMessage(`{"run_id": "o", "sync": [[
		["node_add", 0, 0, "name", "", "", "handles.Pars"],
		["node_add", 0, 0, "f", "", "", "functions.testing.shout"],
		["node_add", 0, 0, "o", "", "", "handles.obj"],
		["node_data", "name", "\"red\""],
		["link_add", "name", 0, "f", 0, 0],
		["link_add", "f", 0, "o", 0, 0]
	]]}`)

	ran, err := client.Do(ctx, store.Request{
		Username:  "ada",
		SessionID: created.SessionID,
		Command:   string(worker.CmdUpdateRun),
		Payload:   payload,
	})
	require.NoError(t, err)
	require.Empty(t, ran.FatalError)
	require.Empty(t, ran.Error)
	assert.Contains(t, ran.DataUpdate, "o")
	assert.Equal(t, []string{"red"}, recorder.Calls())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	rec, err := a.Store().Session(context.Background(), created.SessionID)
	require.NoError(t, err)
	assert.False(t, rec.Autosave.IsZero(), "live sessions are autosaved on shutdown")
	assert.Contains(t, logs.String(), "Worker pool stopped.")
	assert.Contains(t, logs.String(), "worker.task", "task spans are flushed to the log writer")
	assert.Contains(t, logs.String(), "flowlab.command")
}

func TestNewTracerProvider(t *testing.T) {
	for _, exporter := range []string{TraceNone, TraceStdout, TraceOTLP} {
		t.Run(exporter, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.TraceExporter = exporter
			tp, err := newTracerProvider(context.Background(), cfg, io.Discard)
			require.NoError(t, err)
			_, span := tp.Tracer("test").Start(context.Background(), "task")
			span.End()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = tp.Shutdown(ctx)
		})
	}

	cfg := testConfig(t)
	cfg.TraceExporter = "zipkin"
	_, err := newTracerProvider(context.Background(), cfg, io.Discard)
	require.Error(t, err)
}
