package typetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expected  []string
		expectErr bool
	}{
		{name: "single segment", input: "obj", expected: []string{"obj"}},
		{name: "nested", input: "classes.Dataset.scale", expected: []string{"classes", "Dataset", "scale"}},
		{name: "underscore and dash", input: "functions.linear_model-v2", expected: []string{"functions", "linear_model-v2"}},
		{name: "empty", input: "", expectErr: true},
		{name: "empty segment", input: "a..b", expectErr: true},
		{name: "trailing dot", input: "a.", expectErr: true},
		{name: "bare dash", input: "a.-", expectErr: true},
		{name: "invalid character", input: "a.b c", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := ParseAddress(tc.input)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, addr.Path)
			assert.Equal(t, tc.input, addr.String())
		})
	}
}

func TestAddress_Navigation(t *testing.T) {
	addr, err := ParseAddress("classes.Dataset.scale")
	require.NoError(t, err)

	assert.Equal(t, "scale", addr.Last())
	assert.Equal(t, "classes.Dataset", addr.Parent().String())
	assert.Equal(t, "Dataset", addr.Parent().Last())
	assert.Equal(t, "classes.Dataset.scale.x", addr.Child("x").String())
	assert.Equal(t, "classes.Dataset.scale", addr.String(), "Child must not alias the receiver")

	assert.Equal(t, "", Address{}.Last())
	assert.Empty(t, Address{Path: []string{"a"}}.Parent().Path)
}

func TestAddress_Equal(t *testing.T) {
	a, _ := ParseAddress("a.b")
	b, _ := ParseAddress("a.b")
	c, _ := ParseAddress("a.c")
	d, _ := ParseAddress("a")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
}
