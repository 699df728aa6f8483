package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/flowlab/catalog"
	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/flatgraph"
	"github.com/specialistvlad/flowlab/internal/registry"
	"github.com/specialistvlad/flowlab/internal/store"
	"github.com/specialistvlad/flowlab/internal/typetree"
	"github.com/specialistvlad/flowlab/internal/workspace"
	"github.com/specialistvlad/flowlab/modules/dataset"
	"github.com/specialistvlad/flowlab/modules/fitmodel"
	"github.com/specialistvlad/flowlab/modules/palette"
)

func newFactory(t *testing.T) (context.Context, *Factory) {
	t.Helper()
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	types, err := typetree.NewLoader().LoadFS(ctx, catalog.FS)
	require.NoError(t, err)
	reg := registry.New().Register(&dataset.Module{}, &fitmodel.Module{}, &palette.Module{})
	return ctx, &Factory{
		Types:      types,
		Library:    reg,
		Engine:     workspace.NewEngine(reg),
		Lock:       &sync.Mutex{},
		SidecarDir: t.TempDir(),
	}
}

func batch(t *testing.T, src string) flatgraph.Batch {
	t.Helper()
	var b flatgraph.Batch
	require.NoError(t, sonic.UnmarshalString(src, &b))
	return b
}

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

func TestSession_UpdateAndExecute(t *testing.T) {
	ctx, f := newFactory(t)
	s := f.New("gs-1", "ada")

	changes, err := s.UpdateAndExecute(ctx, "ds", batch(t, dataGraph))
	require.NoError(t, err)
	require.Contains(t, changes, "ds")
	held, err := s.Graph.Object("ds")
	require.NoError(t, err)
	assert.IsType(t, &dataset.Dataset{}, held)
}

func TestSession_UpdateErrorSkipsExecution(t *testing.T) {
	ctx, f := newFactory(t)
	s := f.New("gs-1", "ada")
	require.NoError(t, s.Update(ctx, batch(t, dataGraph), nil))

	changes, err := s.UpdateAndExecute(ctx, "ds", batch(t, `[[["link_add", "ghost", 0, "ds", 0, 0]]]`))
	require.Error(t, err)
	assert.Nil(t, changes)
	var updateErr *UpdateError
	assert.ErrorAs(t, err, &updateErr)

	held, err := s.Graph.Object("ds")
	require.NoError(t, err)
	assert.Nil(t, held, "the node was not executed")
}

func TestSession_UpdateAppliesCoordsOnError(t *testing.T) {
	ctx, f := newFactory(t)
	s := f.New("gs-1", "ada")
	require.NoError(t, s.Update(ctx, batch(t, dataGraph), nil))

	err := s.Update(ctx, batch(t, `[[["node_rm", "lin"]]]`), map[string]flatgraph.Coord{"lo": {X: 5, Y: 6}})
	require.Error(t, err)
	lo, ok := s.Graph.Node("lo")
	require.True(t, ok)
	assert.Equal(t, 5.0, lo.X)
	assert.Equal(t, 6.0, lo.Y)
}

func TestSession_SnapshotRestore(t *testing.T) {
	ctx, f := newFactory(t)
	s := f.New("gs-1", "ada")
	_, err := s.UpdateAndExecute(ctx, "ds", batch(t, dataGraph))
	require.NoError(t, err)
	wantDef, err := s.GraphDef()
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.IsZero())
	assert.Equal(t, wantDef, snap.GraphDef)
	assert.FileExists(t, snap.Sidecar)

	s.Shutdown(ctx)
	require.Equal(t, 0, f.Engine.Len())

	rec := store.SessionRecord{ID: "gs-1", Username: "ada", GraphDef: wantDef}
	restored, err := f.Restore(ctx, rec, snap)
	require.NoError(t, err)
	assert.Equal(t, "ada", restored.Username)
	held, err := restored.Graph.Object("ds")
	require.NoError(t, err)
	require.IsType(t, &dataset.Dataset{}, held)
	assert.Len(t, held.(*dataset.Dataset).X, 5)

	RemoveSidecar(ctx, snap)
	_, err = os.Stat(snap.Sidecar)
	assert.ErrorIs(t, err, os.ErrNotExist)
	RemoveSidecar(ctx, snap)
}

func TestFactory_RestoreFailures(t *testing.T) {
	ctx, f := newFactory(t)
	rec := store.SessionRecord{ID: "gs-1"}

	_, err := f.Restore(ctx, rec, store.Snapshot{})
	require.Error(t, err)

	_, err = f.Restore(ctx, rec, store.Snapshot{Sidecar: "/nonexistent/x.mpk", SavedAt: time.Now()})
	require.Error(t, err)

	_, err = f.Restore(ctx, rec, store.Snapshot{Blob: []byte("garbage"), SavedAt: time.Now()})
	require.Error(t, err)
}

func TestFactory_Reconstruct(t *testing.T) {
	ctx, f := newFactory(t)
	src := f.New("gs-1", "ada")
	require.NoError(t, src.Update(ctx, batch(t, dataGraph), nil))
	def, err := src.GraphDef()
	require.NoError(t, err)

	s, err := f.Reconstruct(ctx, store.SessionRecord{ID: "gs-1", Username: "ada", GraphDef: def})
	require.NoError(t, err)
	got, err := s.GraphDef()
	require.NoError(t, err)

	want, err := flatgraph.DecodeGraphDef([]byte(def))
	require.NoError(t, err)
	gotDef, err := flatgraph.DecodeGraphDef([]byte(got))
	require.NoError(t, err)
	if diff := cmp.Diff(want, gotDef); diff != "" {
		t.Errorf("reconstructed definition mismatch (-want +got):\n%s", diff)
	}

	_, err = f.Reconstruct(ctx, store.SessionRecord{ID: "bad", GraphDef: "{"})
	require.Error(t, err)
}

func TestSession_Touch(t *testing.T) {
	_, f := newFactory(t)
	s := f.New("gs-1", "ada")
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Touch(t0)
	assert.True(t, s.TouchedAt().Equal(t0))
	assert.Equal(t, 90*time.Second, s.IdleFor(t0.Add(90*time.Second)))
}

func TestSession_ExtractLog(t *testing.T) {
	ctx, f := newFactory(t)
	s := f.New("gs-1", "ada")
	_, err := s.UpdateAndExecute(ctx, "ds", batch(t, dataGraph))
	require.NoError(t, err)

	log := s.ExtractLog()
	assert.Contains(t, log, "log generated on")
	assert.Contains(t, log, "linspace(")
	assert.NotContains(t, s.ExtractLog(), "linspace(", "extracted lines are removed")
}
