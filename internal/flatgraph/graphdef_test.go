package flatgraph

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/flowlab/internal/middleware"
	"github.com/specialistvlad/flowlab/modules/dataset"
)

func TestGraphDef_WireFormat(t *testing.T) {
	def := NewGraphDef()
	def.Nodes["o0"] = NodeTuple{X: 1.5, Y: 2, ID: "o0", Name: "n", Label: "l", TypeAddress: "handles.obj"}
	def.Links["f0"] = []LinkTuple{{ID1: "f0", Idx1: 0, ID2: "o0", Idx2: 1, Order: 0}}
	def.Datas["p"] = `"red"`

	b, err := EncodeGraphDef(def)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"nodes": {"o0": [1.5, 2, "o0", "n", "l", "handles.obj"]},
		"links": {"f0": [["f0", 0, "o0", 1, 0]]},
		"datas": {"p": "\"red\""}
	}`, string(b))

	got, err := DecodeGraphDef(b)
	require.NoError(t, err)
	if diff := cmp.Diff(def, got); diff != "" {
		t.Errorf("decoded graph definition mismatch (-want +got):\n%s", diff)
	}
}

func TestGraphDef_DecodeLenient(t *testing.T) {
	t.Run("missing sections", func(t *testing.T) {
		def, err := DecodeGraphDef([]byte(`{"nodes": {}}`))
		require.NoError(t, err)
		assert.NotNil(t, def.Links)
		assert.NotNil(t, def.Datas)
	})
	t.Run("link without order", func(t *testing.T) {
		def, err := DecodeGraphDef([]byte(`{"links": {"a": [["a", 0, "b", 1]]}}`))
		require.NoError(t, err)
		assert.Equal(t, LinkTuple{ID1: "a", ID2: "b", Idx2: 1}, def.Links["a"][0])
	})
	t.Run("short node tuple", func(t *testing.T) {
		_, err := DecodeGraphDef([]byte(`{"nodes": {"a": [0, 0, "a"]}}`))
		require.Error(t, err)
	})
	t.Run("empty input", func(t *testing.T) {
		def, err := DecodeGraphDef(nil)
		require.NoError(t, err)
		assert.Empty(t, def.Nodes)
	})
}

const richGraph = `[[
	["node_add", 10, 20, "lo", "", "start", "handles.Pars"],
	["node_add", 10, 60, "hi", "", "stop", "handles.Pars"],
	["node_add", 50, 40, "lin", "", "lin", "functions.dataset.linspace"],
	["node_add", 90, 40, "ds", "", "ds", "handles.idata"],
	["node_add", 130, 40, "scale", "", "scale", "classes.Dataset.scale"],
	["node_add", 170, 40, "out", "", "out", "handles.idata"],
	["node_add", 90, 80, "norm", "", "norm", "classes.Dataset.normalize"],
	["node_data", "lo", "-1"],
	["node_data", "hi", "1"],
	["node_data", "lin", "{\"num\": 9}"],
	["node_data", "scale", "{\"factor\": 0.5}"],
	["link_add", "lo", 0, "lin", 0, 0],
	["link_add", "hi", 0, "lin", 1, 0],
	["link_add", "lin", 0, "ds", 0, 0],
	["link_add", "ds", 0, "scale", 0, 0],
	["link_add", "scale", 0, "out", 0, 0],
	["link_add", "norm", -1, "ds", -1, 0]
]]`

func TestGraphDef_RoundTrip(t *testing.T) {
	f := newFixture(t)
	src, _ := f.graph()
	require.NoError(t, src.GraphUpdate(f.ctx, batch(t, richGraph)))
	_, err := src.ExecuteNode(f.ctx, "ds")
	require.NoError(t, err)

	def, err := src.ExtractGraphDef()
	require.NoError(t, err)
	assert.Len(t, def.Nodes, 7)
	assert.Equal(t, `{"num":9}`, def.Datas["lin"])
	assert.NotContains(t, def.Datas, "ds", "held object values are not part of the definition")

	encoded, err := EncodeGraphDef(def)
	require.NoError(t, err)
	decoded, err := DecodeGraphDef(encoded)
	require.NoError(t, err)

	dst, _ := f.graph()
	require.NoError(t, dst.InjectGraphDef(f.ctx, decoded))

	again, err := dst.ExtractGraphDef()
	require.NoError(t, err)
	if diff := cmp.Diff(def, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	held, err := dst.Object("ds")
	require.NoError(t, err)
	assert.Nil(t, held)

	// The injected graph is executable.
	_, err = dst.ExecuteNode(f.ctx, "out")
	require.Error(t, err, "ds holds no value yet")
	_, err = dst.ExecuteNode(f.ctx, "ds")
	require.NoError(t, err)
	_, err = dst.ExecuteNode(f.ctx, "out")
	require.NoError(t, err)
}

func TestGraphDef_MethodRebindingRoundTrip(t *testing.T) {
	f := newFixture(t)
	src, _ := f.graph()
	require.NoError(t, src.GraphUpdate(f.ctx, batch(t, dataGraph)))
	require.NoError(t, src.GraphUpdate(f.ctx, batch(t, `[[
		["node_add", 0, 0, "scale", "", "", "classes.Dataset.scale"],
		["node_add", 0, 0, "moved", "", "", "handles.idata"],
		["link_add", "ds", 0, "scale", 0, 0],
		["link_add", "scale", 0, "moved", 0, 0]
	]]`)))

	tests := []struct {
		name  string
		cmds  string
		datas string
		want  []float64
	}{
		{
			name:  "rebound method",
			cmds:  `[[["node_data", "scale", "\"shift\""]]]`,
			datas: `"shift"`,
			want:  []float64{0, 0.25, 0.5, 0.75, 1},
		},
		{
			name:  "rebound method with overrides",
			cmds:  `[[["node_data", "scale", "{\"offset\": 1}"]]]`,
			datas: `["shift",{"offset":1}]`,
			want:  []float64{1, 1.25, 1.5, 1.75, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, src.GraphUpdate(f.ctx, batch(t, tt.cmds)))
			def, err := src.ExtractGraphDef()
			require.NoError(t, err)
			assert.Equal(t, tt.datas, def.Datas["scale"])

			dst, _ := f.graph()
			require.NoError(t, dst.InjectGraphDef(f.ctx, def))
			n, err := dst.graph.Node("scale")
			require.NoError(t, err)
			assert.Equal(t, "shift", n.MethodName())

			_, err = dst.ExecuteNode(f.ctx, "ds")
			require.NoError(t, err)
			_, err = dst.ExecuteNode(f.ctx, "moved")
			require.NoError(t, err)
			held, err := dst.Object("moved")
			require.NoError(t, err)
			assert.Equal(t, tt.want, held.(*dataset.Dataset).Y)
			dst.Shutdown(f.ctx)
		})
	}
}

func TestSnapshot_RestoreKeepsHeldValues(t *testing.T) {
	f := newFixture(t)
	src, mw := f.graph()
	require.NoError(t, src.GraphUpdate(f.ctx, batch(t, richGraph)))
	require.NoError(t, src.GraphUpdate(f.ctx, batch(t, `[[
		["node_add", 0, 0, "colour", "", "", "functions.palette.Colour"],
		["node_add", 0, 0, "name", "", "", "handles.Pars"],
		["node_add", 0, 0, "hex", "", "", "handles.obj"],
		["node_data", "name", "\"blue\""],
		["link_add", "name", 0, "colour", 0, 0],
		["link_add", "colour", 0, "hex", 0, 0]
	]]`)))
	_, err := src.ExecuteNode(f.ctx, "ds")
	require.NoError(t, err)
	_, err = src.ExecuteNode(f.ctx, "hex")
	require.NoError(t, err)

	sidecar := filepath.Join(t.TempDir(), "session.mat")
	require.NoError(t, mw.Save(sidecar))
	blob, err := src.Snapshot()
	require.NoError(t, err)
	src.Shutdown(f.ctx)
	require.Equal(t, 0, f.engine.Len())

	mw2 := middleware.NewVarname(f.engine, f.lock)
	require.NoError(t, mw2.Load(sidecar))
	dst := New(f.types, f.reg, mw2)
	require.NoError(t, dst.RestoreSnapshot(f.ctx, blob))

	held, err := dst.Object("ds")
	require.NoError(t, err)
	ds, ok := held.(*dataset.Dataset)
	require.True(t, ok)
	assert.Len(t, ds.X, 9)
	assert.Len(t, mw2.Names(), 1)

	hex, err := dst.Object("hex")
	require.NoError(t, err)
	assert.Equal(t, "#0000ff", hex)

	srcDef, err := src.ExtractGraphDef()
	require.NoError(t, err)
	dstDef, err := dst.ExtractGraphDef()
	require.NoError(t, err)
	if diff := cmp.Diff(srcDef, dstDef); diff != "" {
		t.Errorf("restored definition mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_RestoreIntoNonEmptyGraph(t *testing.T) {
	f := newFixture(t)
	src, _ := f.graph()
	require.NoError(t, src.NodeAdd(f.ctx, 0, 0, "o", "", "", "handles.obj"))
	blob, err := src.Snapshot()
	require.NoError(t, err)

	require.Error(t, src.RestoreSnapshot(f.ctx, blob))
}

func TestSnapshot_RestoreSkipsUnresolvedBinding(t *testing.T) {
	f := newFixture(t)
	src, _ := f.graph()
	require.NoError(t, src.GraphUpdate(f.ctx, batch(t, dataGraph)))
	_, err := src.ExecuteNode(f.ctx, "ds")
	require.NoError(t, err)
	blob, err := src.Snapshot()
	require.NoError(t, err)
	src.Shutdown(f.ctx)

	// No sidecar is loaded, so the workspace has no value for ds.
	dst, mw := f.graph()
	require.NoError(t, dst.RestoreSnapshot(f.ctx, blob))

	held, err := dst.Object("ds")
	require.NoError(t, err)
	assert.Nil(t, held)
	assert.Empty(t, mw.Names())
	assert.Equal(t, src.Len(), dst.Len())
}
