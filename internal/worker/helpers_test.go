package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/flowlab/catalog"
	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/inmemorystore"
	"github.com/specialistvlad/flowlab/internal/registry"
	"github.com/specialistvlad/flowlab/internal/session"
	"github.com/specialistvlad/flowlab/internal/store"
	"github.com/specialistvlad/flowlab/internal/typetree"
	"github.com/specialistvlad/flowlab/internal/workspace"
	"github.com/specialistvlad/flowlab/modules/dataset"
	"github.com/specialistvlad/flowlab/modules/fitmodel"
	"github.com/specialistvlad/flowlab/modules/palette"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	ctx     context.Context
	st      *inmemorystore.Store
	factory *session.Factory
	pool    *Pool
	clock   *fakeClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 3
	cfg.DequeueTimeout = 10 * time.Millisecond
	cfg.DrainInterval = 5 * time.Millisecond
	cfg.IdleTimeout = time.Minute
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	types, err := typetree.NewLoader().LoadFS(ctx, catalog.FS)
	require.NoError(t, err)
	reg := registry.New().Register(&dataset.Module{}, &fitmodel.Module{}, &palette.Module{})
	factory := &session.Factory{
		Types:      types,
		Library:    reg,
		Engine:     workspace.NewEngine(reg),
		Lock:       &sync.Mutex{},
		SidecarDir: t.TempDir(),
	}
	st := inmemorystore.New()
	clock := &fakeClock{now: time.Now()}
	pool, err := New(testConfig(), st, factory,
		WithRegisterer(prometheus.NewRegistry()),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	return &harness{ctx: ctx, st: st, factory: factory, pool: pool, clock: clock}
}

// createSession stores a record with the given definition.
func (h *harness) createSession(t *testing.T, id, graphdef string) {
	t.Helper()
	if graphdef == "" {
		graphdef = `{"nodes":{},"links":{},"datas":{}}`
	}
	require.NoError(t, h.st.CreateSession(h.ctx, store.SessionRecord{
		ID:       id,
		Username: "ada",
		Created:  time.Now().UTC(),
		GraphDef: graphdef,
	}))
}

// do processes req synchronously and returns its decoded reply.
func (h *harness) do(t *testing.T, req store.Request) *Reply {
	t.Helper()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Username == "" {
		req.Username = "ada"
	}
	h.pool.process(h.ctx, req)
	raw, err := h.st.TakeReply(h.ctx, req.ID)
	require.NoError(t, err)
	reply, err := DecodeReply(raw.Payload)
	require.NoError(t, err)
	return reply
}

func request(sessionID string, cmd Command, tabID string, payload string) store.Request {
	req := store.Request{SessionID: sessionID, Command: string(cmd), TabID: tabID}
	if payload != "" {
		req.Payload = json.RawMessage(payload)
	}
	return req
}

// dataGraph builds lo, hi (literals 0 and 1) -> lin (linspace, num=5) -> ds.
const dataGraph = `[[
	["node_add", 0, 0, "lo", "", "", "handles.Pars"],
	["node_add", 0, 0, "hi", "", "", "handles.Pars"],
	["node_add", 0, 0, "lin", "", "", "functions.dataset.linspace"],
	["node_add", 0, 0, "ds", "", "", "handles.idata"],
	["node_data", "lo", "0"],
	["node_data", "hi", "1"],
	["node_data", "lin", "{\"num\": 5}"],
	["link_add", "lo", 0, "lin", 0, 0],
	["link_add", "hi", 0, "lin", 1, 0],
	["link_add", "lin", 0, "ds", 0, 0]
]]`

const buildAndRun = `{"run_id": "ds", "sync": ` + dataGraph + `}`
