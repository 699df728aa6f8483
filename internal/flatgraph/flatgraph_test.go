package flatgraph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/flowlab/internal/nodegraph"
	"github.com/specialistvlad/flowlab/modules/dataset"
)

func TestFlatGraph_ColourScenario(t *testing.T) {
	f := newFixture(t)
	fg, _ := f.graph()

	err := fg.GraphUpdate(f.ctx, batch(t, `[
		[["node_add", 454.25, 401.3, "o0", "", "", "handles.obj"]],
		[["node_add", 348, 367.3, "f0", "", "C", "functions.palette.Colour"]],
		[["node_add", 382.75, 281.3, "o1", "", "", "handles.Pars"]],
		[["node_data", "o1", "\"red\""]],
		[["link_add", "o1", 0, "f0", 0, 0]],
		[["link_add", "f0", 0, "o0", 0, 0]]
	]`))
	require.NoError(t, err)
	assert.Equal(t, 3, fg.Len())

	changes, err := fg.ExecuteNode(f.ctx, "o0")
	require.NoError(t, err)
	assert.Equal(t, ChangeSet{"o0": "#ff0000"}, changes)

	held, err := fg.Object("o0")
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", held)

	require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, `[[["link_rm", "o1", 0, "f0", 0, 0], ["node_rm", "o1"]]]`)))
	_, ok := fg.Node("o1")
	assert.False(t, ok)

	err = fg.NodeRemove(f.ctx, "f0")
	require.ErrorIs(t, err, ErrNodeHasLinks)
	_, ok = fg.Node("f0")
	assert.True(t, ok)
}

func TestFlatGraph_GraphUpdateIsPartial(t *testing.T) {
	f := newFixture(t)
	fg, _ := f.graph()

	err := fg.GraphUpdate(f.ctx, batch(t, `[
		[["node_add", 0, 0, "a", "", "", "handles.obj"], ["node_add", 0, 0, "b", "", "", "handles.obj"]],
		[["link_add", "a", 0, "missing", 0, 0]],
		[["node_label", "b", "bee"]]
	]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, nodegraph.ErrUnknownNode)
	assert.Contains(t, err.Error(), "missing")

	assert.Equal(t, []string{"a", "b"}, fg.IDs())
	b, _ := fg.Node("b")
	assert.Equal(t, "bee", b.Label)
}

func TestFlatGraph_GraphUpdateErrors(t *testing.T) {
	tests := []struct {
		name  string
		batch string
		want  error
	}{
		{name: "unknown command", batch: `[[["node_teleport", "a"]]]`, want: ErrUnknownCommand},
		{name: "duplicate id", batch: `[[["node_add", 0, 0, "a", "", "", "handles.obj"]]]`, want: nodegraph.ErrNodeExists},
		{name: "second parent of object", batch: `[[["node_add", 0, 0, "c", "", "", "handles.obj"], ["link_add", "c", 0, "a", 0, 0]]]`},
		{name: "bad arity", batch: `[[["node_rm"]]]`},
		{name: "bad argument type", batch: `[[["link_add", "a", "zero", "b", 0]]]`},
		{name: "unknown type address", batch: `[[["node_add", 0, 0, "z", "", "", "handles.nothing"]]]`},
		{name: "removing absent link", batch: `[[["link_rm", "b", 0, "a", 1, 0]]]`, want: ErrLinkNotCached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			fg, _ := f.graph()
			require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, `[[
				["node_add", 0, 0, "a", "", "", "handles.obj"],
				["node_add", 0, 0, "b", "", "", "handles.obj"],
				["link_add", "b", 0, "a", 0, 0]
			]]`)))

			err := fg.GraphUpdate(f.ctx, batch(t, tt.batch))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestFlatGraph_NodeRemove(t *testing.T) {
	f := newFixture(t)
	fg, _ := f.graph()
	require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, `[[
		["node_add", 0, 0, "ds", "", "", "handles.idata"],
		["node_add", 0, 0, "norm", "", "", "classes.Dataset.normalize"],
		["link_add", "ds", -1, "norm", -1, 0]
	]]`)))

	require.NoError(t, fg.NodeRemove(f.ctx, "absent"))
	assert.ErrorIs(t, fg.NodeRemove(f.ctx, "norm"), ErrNodeHasLinks)
	assert.ErrorIs(t, fg.NodeRemove(f.ctx, "ds"), ErrNodeHasLinks)

	require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, `[[["own_rm", "ds", "norm"], ["node_rm", "norm"], ["node_rm", "ds"]]]`)))
	assert.Equal(t, 0, fg.Len())
	def, err := fg.ExtractGraphDef()
	require.NoError(t, err)
	assert.Empty(t, def.Links)
}

func TestFlatGraph_OwnershipFromEitherSide(t *testing.T) {
	f := newFixture(t)
	fg, _ := f.graph()
	require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, `[[
		["node_add", 0, 0, "ds", "", "", "handles.idata"],
		["node_add", 0, 0, "norm", "", "", "classes.Dataset.normalize"],
		["link_add", "norm", -1, "ds", -1, 0]
	]]`)))

	n, err := fg.graph.Node("norm")
	require.NoError(t, err)
	assert.Contains(t, n.Owners(), "ds")

	// Ownership links may be removed from the other side.
	require.NoError(t, fg.LinkRemove(f.ctx, "ds", -1, "norm", -1, 0))
	n, err = fg.graph.Node("norm")
	require.NoError(t, err)
	assert.NotContains(t, n.Owners(), "ds")
}

func TestFlatGraph_NodeData(t *testing.T) {
	f := newFixture(t)
	fg, mw := f.graph()
	require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, dataGraph)))
	_, err := fg.ExecuteNode(f.ctx, "ds")
	require.NoError(t, err)

	held, err := fg.Object("ds")
	require.NoError(t, err)
	ds := held.(*dataset.Dataset)
	require.Len(t, mw.Names(), 1)

	t.Run("forwards to held value", func(t *testing.T) {
		require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, `[[["node_data", "ds", "{\"mask\": [0, 0.5]}"]]]`)))
		assert.Equal(t, []bool{false, false, false, true, true}, ds.Mask)
	})

	t.Run("hook failure propagates", func(t *testing.T) {
		err := fg.GraphUpdate(f.ctx, batch(t, `[[["node_data", "ds", "{\"mask\": [1, 0]}"]]]`))
		require.Error(t, err)
	})

	t.Run("malformed payload is ignored", func(t *testing.T) {
		require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, `[[["node_data", "lo", "{not json"]]]`)))
		v, err := fg.Object("lo")
		require.NoError(t, err)
		assert.Equal(t, 0.0, v)
	})

	t.Run("function defaults merge", func(t *testing.T) {
		require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, `[[["node_data", "lin", {"num": 7}]]]`)))
		n, err := fg.graph.Node("lin")
		require.NoError(t, err)
		assert.Equal(t, 7.0, n.Overrides()["num"])
	})

	t.Run("null clears and releases", func(t *testing.T) {
		require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, `[[["node_data", "ds", null]]]`)))
		v, err := fg.Object("ds")
		require.NoError(t, err)
		assert.Nil(t, v)
		assert.Empty(t, mw.Names())
	})
}

func TestFlatGraph_GraphCoords(t *testing.T) {
	f := newFixture(t)
	fg, _ := f.graph()
	require.NoError(t, fg.NodeAdd(f.ctx, 1, 2, "o0", "", "obj", "handles.obj"))

	fg.GraphCoords(map[string]Coord{"o0": {X: 10, Y: 20}, "ghost": {X: 1, Y: 1}})

	got, ok := fg.Node("o0")
	require.True(t, ok)
	want := NodeTuple{X: 10, Y: 20, ID: "o0", Label: "obj", TypeAddress: "handles.obj"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("node tuple mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, fg.Len())
}

func TestFlatGraph_ResetAllObjects(t *testing.T) {
	f := newFixture(t)
	fg, mw := f.graph()
	require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, dataGraph)))
	_, err := fg.ExecuteNode(f.ctx, "ds")
	require.NoError(t, err)
	require.Equal(t, 1, fg.HeldValues())

	require.NoError(t, fg.ResetAllObjects(f.ctx))

	assert.Equal(t, 0, fg.HeldValues())
	assert.Empty(t, mw.Names())
	assert.Equal(t, 0, f.engine.Len())
	lo, err := fg.Object("lo")
	require.NoError(t, err)
	assert.Equal(t, 0.0, lo, "literals keep their value")
	assert.Equal(t, 4, fg.Len())
}

func TestFlatGraph_DataUpdate(t *testing.T) {
	f := newFixture(t)
	fg, _ := f.graph()
	require.NoError(t, fg.GraphUpdate(f.ctx, batch(t, dataGraph)))
	require.NoError(t, fg.NodeAdd(f.ctx, 0, 0, "empty", "", "", "handles.obj"))
	_, err := fg.ExecuteNode(f.ctx, "ds")
	require.NoError(t, err)

	update, err := fg.DataUpdate()
	require.NoError(t, err)
	assert.Len(t, update, 2)
	assert.Nil(t, update["empty"])
	repr, ok := update["ds"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, repr["x"])
}
