package typetree

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_PutRetrieve(t *testing.T) {
	tree := New()
	require.NoError(t, tree.Put("", &NodeType{Type: "obj", BaseType: BaseObject}))
	require.NoError(t, tree.Put("classes.Dataset", &NodeType{Type: "scale", BaseType: BaseMethodAsFunction}))

	t.Run("top level", func(t *testing.T) {
		nt, err := tree.Retrieve("obj")
		require.NoError(t, err)
		assert.Equal(t, "obj", nt.Address)
	})

	t.Run("nested", func(t *testing.T) {
		nt, err := tree.Retrieve("classes.Dataset.scale")
		require.NoError(t, err)
		assert.Equal(t, BaseMethodAsFunction, nt.BaseType)
		assert.Equal(t, "classes.Dataset.scale", nt.Address)
	})

	t.Run("branch is not a leaf", func(t *testing.T) {
		_, err := tree.Retrieve("classes.Dataset")
		assert.ErrorIs(t, err, ErrUnknownAddress)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := tree.Retrieve("classes.Model.reset")
		assert.ErrorIs(t, err, ErrUnknownAddress)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := tree.Retrieve("classes..x")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnknownAddress)
	})

	assert.Equal(t, []string{"obj", "classes.Dataset.scale"}, tree.Addresses())
	assert.Equal(t, 2, tree.Len())
}

func TestTree_PutReplacesWithoutDuplicatingAddress(t *testing.T) {
	tree := New()
	require.NoError(t, tree.Put("h", &NodeType{Type: "obj", BaseType: BaseObject, Label: "first"}))
	require.NoError(t, tree.Put("h", &NodeType{Type: "obj", BaseType: BaseObject, Label: "second"}))

	nt, err := tree.Retrieve("h.obj")
	require.NoError(t, err)
	assert.Equal(t, "second", nt.Label)
	assert.Equal(t, 1, tree.Len())
}

func TestTree_PutValidates(t *testing.T) {
	testCases := []struct {
		name   string
		branch string
		nt     *NodeType
	}{
		{"missing type", "", &NodeType{BaseType: BaseObject}},
		{"missing basetype", "", &NodeType{Type: "x"}},
		{"unknown basetype", "", &NodeType{Type: "x", BaseType: "widget"}},
		{"bad branch", "a..b", &NodeType{Type: "x", BaseType: BaseObject}},
		{"bad type segment", "", &NodeType{Type: "x y", BaseType: BaseObject}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tree := New()
			require.Error(t, tree.Put(tc.branch, tc.nt))
			assert.Equal(t, 0, tree.Len())
		})
	}
}

func TestTree_MarshalJSON(t *testing.T) {
	tree := New()
	require.NoError(t, tree.Put("handles", &NodeType{Type: "obj", BaseType: BaseObject, Name: "obj"}))

	raw, err := tree.MarshalJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, sonic.Unmarshal(raw, &decoded))

	handles := decoded["handles"].(map[string]any)
	assert.Nil(t, handles["leaf"])
	obj := handles["branch"].(map[string]any)["obj"].(map[string]any)
	leaf := obj["leaf"].(map[string]any)
	assert.Equal(t, "object", leaf["basetype"])
	assert.Equal(t, "handles.obj", leaf["address"])
}
