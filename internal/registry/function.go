package registry

import (
	"fmt"
	"maps"
	"math/big"
	"reflect"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Param describes one input of a registered function.
type Param struct {
	Name       string
	Default    any
	HasDefault bool
}

// Required declares a parameter that must be supplied by the caller.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter with a default value.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, HasDefault: true}
}

// Function is a registered function or bound method ready to be called with
// loosely typed arguments.
type Function struct {
	Name string

	spec *RegisteredFunction
	fn   reflect.Value
	recv reflect.Value
}

func newFunction(name string, spec *RegisteredFunction, recv reflect.Value) *Function {
	return &Function{Name: name, spec: spec, fn: reflect.ValueOf(spec.Fn), recv: recv}
}

// Params returns the declared parameters, receiver excluded.
func (f *Function) Params() []Param {
	return f.spec.Params
}

// Defaults returns a fresh map of the parameters that carry defaults.
func (f *Function) Defaults() map[string]any {
	out := make(map[string]any)
	for _, p := range f.spec.Params {
		if p.HasDefault {
			out[p.Name] = p.Default
		}
	}
	return out
}

// RequiredParams returns the names of parameters without defaults, in order.
func (f *Function) RequiredParams() []string {
	var out []string
	for _, p := range f.spec.Params {
		if !p.HasDefault {
			out = append(out, p.Name)
		}
	}
	return out
}

// Call binds args positionally and named by parameter name, fills remaining
// parameters from their defaults, coerces every value to the Go parameter
// type and invokes the function. A panic inside the function is returned as
// an error.
func (f *Function) Call(args []any, named map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%s: panic: %v", f.Name, r)
		}
	}()

	in, err := f.bind(args, named)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	out := f.fn.Call(in)
	return unpack(out)
}

func (f *Function) bind(args []any, named map[string]any) ([]reflect.Value, error) {
	params := f.spec.Params
	if len(args) > len(params) {
		return nil, fmt.Errorf("takes %d arguments but %d were given", len(params), len(args))
	}

	values := make([]any, len(params))
	set := make([]bool, len(params))
	for i, a := range args {
		values[i] = a
		set[i] = true
	}

	// Sorted for deterministic error reporting.
	for _, key := range sortedKeys(named) {
		idx := f.paramIndex(key)
		if idx < 0 {
			return nil, fmt.Errorf("unexpected keyword argument %q", key)
		}
		if set[idx] {
			return nil, fmt.Errorf("multiple values for argument %q", key)
		}
		values[idx] = named[key]
		set[idx] = true
	}

	offset := 0
	if f.recv.IsValid() {
		offset = 1
	}
	fnType := f.fn.Type()
	in := make([]reflect.Value, 0, len(params)+offset)
	if offset == 1 {
		in = append(in, f.recv)
	}
	for i, p := range params {
		if !set[i] {
			if !p.HasDefault {
				return nil, fmt.Errorf("missing argument %q", p.Name)
			}
			values[i] = p.Default
		}
		v, err := Coerce(values[i], fnType.In(i+offset))
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", p.Name, err)
		}
		in = append(in, v)
	}
	return in, nil
}

func (f *Function) paramIndex(name string) int {
	for i, p := range f.spec.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func unpack(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			if out[0].IsNil() {
				return nil, nil
			}
			return nil, out[0].Interface().(error)
		}
		return valueOf(out[0]), nil
	default:
		if !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return valueOf(out[0]), nil
	}
}

// valueOf returns nil for nil pointers and interfaces so callers can test
// results with a plain nil comparison.
func valueOf(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}

// Coerce converts v to target. Assignable values pass through unchanged;
// primitives and JSON-shaped collections are converted through cty, so
// "3", 3.0 and 3 are all accepted for an int parameter while 3.5 is not.
func Coerce(v any, target reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch target.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
			return reflect.Zero(target), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not a valid %s", target)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}

	base := target
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.Kind() == reflect.Struct || base.Kind() == reflect.Interface {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, target)
	}
	ctyType, err := gocty.ImpliedType(reflect.Zero(target).Interface())
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, target)
	}
	val, err := goToCty(v)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s: %w", v, target, err)
	}
	converted, err := convert.Convert(val, ctyType)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s: %w", v, target, err)
	}
	out := reflect.New(target)
	if err := gocty.FromCtyValue(converted, out.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s: %w", v, target, err)
	}
	return out.Elem(), nil
}

// goToCty converts JSON-shaped Go values into cty values.
func goToCty(v any) (cty.Value, error) {
	switch x := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(x), nil
	case bool:
		return cty.BoolVal(x), nil
	case float64:
		return cty.NumberFloatVal(x), nil
	case float32:
		return cty.NumberFloatVal(float64(x)), nil
	case int:
		return cty.NumberIntVal(int64(x)), nil
	case int64:
		return cty.NumberIntVal(x), nil
	case int32:
		return cty.NumberIntVal(int64(x)), nil
	case uint64:
		return cty.NumberUIntVal(x), nil
	case *big.Float:
		return cty.NumberVal(x), nil
	case []any:
		if len(x) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, 0, len(x))
		for _, e := range x {
			ev, err := goToCty(e)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, ev)
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(x) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(x))
		for k, e := range x {
			ev, err := goToCty(e)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = ev
		}
		return cty.ObjectVal(attrs), nil
	}

	// Typed slices and maps such as []float64 go through gocty directly.
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, err
	}
	return gocty.ToCtyValue(v, ty)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range maps.Keys(m) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
