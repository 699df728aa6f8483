package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
)

var (
	// ErrUnknownFunction is returned when no function is registered under a name.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrUnknownMethod is returned when a value's type has no method of a name.
	ErrUnknownMethod = errors.New("unknown method")
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Module is the interface that all lab modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// RegisteredFunction holds the compiled Go parts of a catalog function or
// method. For methods, Fn is a method expression whose first input is the
// receiver and Params describe the remaining inputs.
type RegisteredFunction struct {
	Params []Param
	Fn     any
}

// RegisteredType holds a lab value type and its callable methods. New must
// return a pointer to a fresh zero value; it is used to decode persisted
// values.
type RegisteredType struct {
	New     func() any
	Methods map[string]*RegisteredFunction
}

// Registry holds the registered functions and value types for a single
// application instance. It is populated once at startup and is read-only
// afterwards.
type Registry struct {
	Functions map[string]*RegisteredFunction
	Types     map[string]*RegisteredType

	byGoType map[reflect.Type]string
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		Functions: make(map[string]*RegisteredFunction),
		Types:     make(map[string]*RegisteredType),
		byGoType:  make(map[reflect.Type]string),
	}
}

// Register runs Register on every module in order.
func (r *Registry) Register(modules ...Module) *Registry {
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// RegisterFunction registers a Go function under name. It panics on a
// duplicate name or when params do not match the function signature.
func (r *Registry) RegisterFunction(name string, fn any, params ...Param) {
	if _, exists := r.Functions[name]; exists {
		panic(fmt.Sprintf("function with name '%s' already registered", name))
	}
	if err := checkSignature(reflect.TypeOf(fn), len(params), 0); err != nil {
		panic(fmt.Sprintf("function '%s': %v", name, err))
	}
	slog.Debug("Registering function.", "name", name, "params", len(params))
	r.Functions[name] = &RegisteredFunction{Params: params, Fn: fn}
}

// RegisterType registers a lab value type and its methods. It panics on a
// duplicate name, a duplicate Go type, or a method whose receiver is not the
// type New returns.
func (r *Registry) RegisterType(name string, t *RegisteredType) {
	if _, exists := r.Types[name]; exists {
		panic(fmt.Sprintf("type with name '%s' already registered", name))
	}
	goType := reflect.TypeOf(t.New())
	if goType == nil || goType.Kind() != reflect.Pointer {
		panic(fmt.Sprintf("type '%s': New must return a pointer", name))
	}
	if other, exists := r.byGoType[goType]; exists {
		panic(fmt.Sprintf("type '%s': Go type %s already registered as '%s'", name, goType, other))
	}
	for methodName, m := range t.Methods {
		fnType := reflect.TypeOf(m.Fn)
		if err := checkSignature(fnType, len(m.Params), 1); err != nil {
			panic(fmt.Sprintf("method '%s.%s': %v", name, methodName, err))
		}
		if fnType.In(0) != goType {
			panic(fmt.Sprintf("method '%s.%s': receiver is %s, want %s", name, methodName, fnType.In(0), goType))
		}
	}
	if t.Methods == nil {
		t.Methods = make(map[string]*RegisteredFunction)
	}
	slog.Debug("Registering type.", "name", name, "goType", goType.String(), "methods", len(t.Methods))
	r.Types[name] = t
	r.byGoType[goType] = name
}

// Func returns a callable for the function registered under name.
func (r *Registry) Func(name string) (*Function, error) {
	spec, ok := r.Functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return newFunction(name, spec, reflect.Value{}), nil
}

// Method returns the method name of receiver's registered type, bound to
// receiver.
func (r *Registry) Method(receiver any, name string) (*Function, error) {
	typeName, ok := r.TypeName(receiver)
	if !ok {
		return nil, fmt.Errorf("%w: %s on unregistered type %T", ErrUnknownMethod, name, receiver)
	}
	spec, ok := r.Types[typeName].Methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, typeName, name)
	}
	return newFunction(typeName+"."+name, spec, reflect.ValueOf(receiver)), nil
}

// TypeName returns the registered name of v's type.
func (r *Registry) TypeName(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	name, ok := r.byGoType[reflect.TypeOf(v)]
	return name, ok
}

// FunctionNames returns all registered function names, sorted.
func (r *Registry) FunctionNames() []string {
	names := make([]string, 0, len(r.Functions))
	for name := range r.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkSignature(fnType reflect.Type, params, receivers int) error {
	if fnType == nil || fnType.Kind() != reflect.Func {
		return fmt.Errorf("not a function")
	}
	if fnType.IsVariadic() {
		return fmt.Errorf("variadic functions are not supported")
	}
	if fnType.NumIn() != params+receivers {
		return fmt.Errorf("has %d inputs but %d params were declared", fnType.NumIn()-receivers, params)
	}
	switch fnType.NumOut() {
	case 0, 1:
	case 2:
		if fnType.Out(1) != errorType {
			return fmt.Errorf("second output must be error")
		}
	default:
		return fmt.Errorf("too many outputs")
	}
	return nil
}
