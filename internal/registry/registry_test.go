package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/typetree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Count int
	Label string
}

func (c *counter) Add(n int) *counter { return &counter{Count: c.Count + n, Label: c.Label} }
func (c *counter) Bump() { c.Count++ }
func (c *counter) Fail() error { return errors.New("failed") }
func (c *counter) Ratio(d float64) (float64, error) {
	if d == 0 {
		return 0, errors.New("division by zero")
	}
	return float64(c.Count) / d, nil
}

func newCounter(start int, label string) *counter { return &counter{Count: start, Label: label} }

func sum(values []float64, scale float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s * scale
}

func explode(string) string { panic("kaboom") }

func testRegistry() *Registry {
	r := New()
	r.RegisterFunction("new_counter", newCounter, Required("start"), Optional("label", "c"))
	r.RegisterFunction("sum", sum, Required("values"), Optional("scale", 1.0))
	r.RegisterFunction("explode", explode, Required("s"))
	r.RegisterType("Counter", &RegisteredType{
		New: func() any { return new(counter) },
		Methods: map[string]*RegisteredFunction{
			"add":   {Fn: (*counter).Add, Params: []Param{Optional("n", 1)}},
			"bump":  {Fn: (*counter).Bump},
			"fail":  {Fn: (*counter).Fail},
			"ratio": {Fn: (*counter).Ratio, Params: []Param{Required("d")}},
		},
	})
	return r
}

func TestFunction_Call(t *testing.T) {
	r := testRegistry()

	testCases := []struct {
		name      string
		fn        string
		args      []any
		named     map[string]any
		want      any
		expectErr string
	}{
		{name: "positional with default", fn: "new_counter", args: []any{3}, want: &counter{Count: 3, Label: "c"}},
		{name: "named override", fn: "new_counter", args: []any{3}, named: map[string]any{"label": "x"}, want: &counter{Count: 3, Label: "x"}},
		{name: "float to int", fn: "new_counter", args: []any{4.0}, want: &counter{Count: 4, Label: "c"}},
		{name: "string to int", fn: "new_counter", args: []any{"5"}, want: &counter{Count: 5, Label: "c"}},
		{name: "json list to slice", fn: "sum", args: []any{[]any{1.0, 2.0, "3"}}, named: map[string]any{"scale": 2}, want: 12.0},
		{name: "fractional to int", fn: "new_counter", args: []any{1.5}, expectErr: "argument \"start\""},
		{name: "missing", fn: "new_counter", expectErr: "missing argument \"start\""},
		{name: "too many", fn: "new_counter", args: []any{1, "a", 2}, expectErr: "takes 2 arguments but 3 were given"},
		{name: "unknown named", fn: "sum", args: []any{[]any{}}, named: map[string]any{"bogus": 1}, expectErr: "unexpected keyword argument \"bogus\""},
		{name: "duplicate", fn: "sum", args: []any{[]any{}, 2.0}, named: map[string]any{"scale": 1}, expectErr: "multiple values for argument \"scale\""},
		{name: "panic recovered", fn: "explode", args: []any{"x"}, expectErr: "explode: panic: kaboom"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fn, err := r.Func(tc.fn)
			require.NoError(t, err)
			got, err := fn.Call(tc.args, tc.named)
			if tc.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErr)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := r.Func("nope")
	assert.ErrorIs(t, err, ErrUnknownFunction)
}

func TestRegistry_Method(t *testing.T) {
	r := testRegistry()
	c := &counter{Count: 1}

	add, err := r.Method(c, "add")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1}, add.Defaults())
	got, err := add.Call(nil, map[string]any{"n": 4})
	require.NoError(t, err)
	assert.Equal(t, 5, got.(*counter).Count)

	bump, err := r.Method(c, "bump")
	require.NoError(t, err)
	out, err := bump.Call(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 2, c.Count, "methods mutate the bound receiver")

	fail, err := r.Method(c, "fail")
	require.NoError(t, err)
	_, err = fail.Call(nil, nil)
	require.EqualError(t, err, "failed")

	ratio, err := r.Method(c, "ratio")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ratio.RequiredParams())
	_, err = ratio.Call([]any{0}, nil)
	require.Error(t, err)

	_, err = r.Method(c, "missing")
	assert.ErrorIs(t, err, ErrUnknownMethod)
	_, err = r.Method("a string", "add")
	assert.ErrorIs(t, err, ErrUnknownMethod)
	_, err = r.Method(nil, "add")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestRegistry_RegistrationPanics(t *testing.T) {
	testCases := []struct {
		name string
		fn   func(r *Registry)
	}{
		{"duplicate function", func(r *Registry) { r.RegisterFunction("sum", sum, Required("v"), Optional("s", 1.0)) }},
		{"param count", func(r *Registry) { r.RegisterFunction("sum2", sum, Required("v")) }},
		{"not a function", func(r *Registry) { r.RegisterFunction("x", 42) }},
		{"bad second output", func(r *Registry) {
			r.RegisterFunction("x", func() (int, int) { return 0, 0 })
		}},
		{"duplicate type", func(r *Registry) {
			r.RegisterType("Counter", &RegisteredType{New: func() any { return new(int) }})
		}},
		{"duplicate go type", func(r *Registry) {
			r.RegisterType("Other", &RegisteredType{New: func() any { return new(counter) }})
		}},
		{"non pointer", func(r *Registry) {
			r.RegisterType("Plain", &RegisteredType{New: func() any { return counter{} }})
		}},
		{"wrong receiver", func(r *Registry) {
			r.RegisterType("Num", &RegisteredType{
				New:     func() any { return new(float64) },
				Methods: map[string]*RegisteredFunction{"add": {Fn: (*counter).Add, Params: []Param{Optional("n", 1)}}},
			})
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := testRegistry()
			assert.Panics(t, func() { tc.fn(r) })
		})
	}
}

func TestRegistry_Codec(t *testing.T) {
	r := testRegistry()

	t.Run("registered type", func(t *testing.T) {
		b, err := r.EncodeValue(&counter{Count: 9, Label: "z"})
		require.NoError(t, err)
		got, err := r.DecodeValue(b)
		require.NoError(t, err)
		assert.Equal(t, &counter{Count: 9, Label: "z"}, got)
	})

	t.Run("plain value", func(t *testing.T) {
		b, err := r.EncodeValue("hello")
		require.NoError(t, err)
		got, err := r.DecodeValue(b)
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := r.DecodeValue([]byte{0xc1})
		require.Error(t, err)
	})
}

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_ValidateCatalog(t *testing.T) {
	r := testRegistry()

	valid := `
branch "functions" {
  node_type "new_counter" {
    basetype = "function"
    ipars    = ["start"]
    data     = { label = "n" }
  }
  node_type "sum" {
    basetype = "function_named"
    ipars    = ["values"]
  }
}
branch "classes.Counter" {
  node_type "add" {
    basetype = "method_as_function"
    ipars    = ["self"]
    data     = { n = 2 }
  }
  node_type "bump" {
    basetype = "method"
  }
}
branch "handles" {
  node_type "obj" { basetype = "object" }
  node_type "ifnotnone" { basetype = "return_function" }
}
`
	tree := typetree.New()
	require.NoError(t, typetree.NewLoader().LoadSource(testContext(), tree, "valid.hcl", []byte(valid)))
	require.NoError(t, r.ValidateCatalog(testContext(), tree))

	invalid := `
branch "functions" {
  node_type "missing_fn" { basetype = "function" }
  node_type "new_counter" {
    basetype = "function"
    ipars    = ["start", "label"]
  }
  node_type "sum" {
    basetype = "function"
    ipars    = ["values"]
    data     = { scale = "abc", bogus = 1 }
  }
}
branch "classes.Counter" {
  node_type "add" { basetype = "method_as_function" }
  node_type "nope" { basetype = "method" }
}
branch "classes.Ghost" {
  node_type "add" { basetype = "method" }
}
`
	tree = typetree.New()
	require.NoError(t, typetree.NewLoader().LoadSource(testContext(), tree, "invalid.hcl", []byte(invalid)))
	err := r.ValidateCatalog(testContext(), tree)
	require.Error(t, err)
	for _, want := range []string{
		"function 'missing_fn' is not registered",
		"'functions.new_counter': catalog inputs [start label] do not match required params [start]",
		"data key 'scale'",
		"data key 'bogus' is not a parameter",
		"'classes.Counter.add': first input must be 'self'",
		"type 'Counter' has no method 'nope'",
		"owner type 'Ghost' is not registered",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
