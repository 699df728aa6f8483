package flatgraph

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/flowlab/catalog"
	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/middleware"
	"github.com/specialistvlad/flowlab/internal/registry"
	"github.com/specialistvlad/flowlab/internal/typetree"
	"github.com/specialistvlad/flowlab/internal/workspace"
	"github.com/specialistvlad/flowlab/modules/dataset"
	"github.com/specialistvlad/flowlab/modules/fitmodel"
	"github.com/specialistvlad/flowlab/modules/palette"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

type fixture struct {
	ctx    context.Context
	types  *typetree.Tree
	reg    *registry.Registry
	engine *workspace.Engine
	lock   *sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := testContext()
	types, err := typetree.NewLoader().LoadFS(ctx, catalog.FS)
	require.NoError(t, err)
	reg := registry.New().Register(&dataset.Module{}, &fitmodel.Module{}, &palette.Module{})
	return &fixture{
		ctx:    ctx,
		types:  types,
		reg:    reg,
		engine: workspace.NewEngine(reg),
		lock:   &sync.Mutex{},
	}
}

func (f *fixture) graph() (*FlatGraph, *middleware.Varname) {
	mw := middleware.NewVarname(f.engine, f.lock)
	return New(f.types, f.reg, mw), mw
}

// batch decodes a JSON batch the way it arrives from an editor.
func batch(t *testing.T, src string) Batch {
	t.Helper()
	var b Batch
	require.NoError(t, sonic.UnmarshalString(src, &b))
	return b
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
