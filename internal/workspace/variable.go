package workspace

import "reflect"

// Variable is implemented by lab values that can live in the workspace.
type Variable interface {
	Varname() string
	SetVarname(name string)
}

// AsVariable returns v as a Variable. It reports false for values that are
// not Variables and for typed nil pointers.
func AsVariable(v any) (Variable, bool) {
	variable, ok := v.(Variable)
	if !ok {
		return nil, false
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, false
	}
	return variable, true
}

// Handle is embedded by lab value types to satisfy Variable.
type Handle struct {
	name string
}

// Varname returns the workspace name, or "" when the value was never bound.
func (h *Handle) Varname() string {
	return h.name
}

// SetVarname binds the value to a workspace name.
func (h *Handle) SetVarname(name string) {
	h.name = name
}

// Codec encodes workspace values for sidecar files.
type Codec interface {
	EncodeValue(v any) ([]byte, error)
	DecodeValue(b []byte) (any, error)
}
