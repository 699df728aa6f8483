package flatgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/specialistvlad/flowlab/internal/middleware"
	"github.com/specialistvlad/flowlab/internal/nodegraph"
	"github.com/specialistvlad/flowlab/internal/registry"
	"github.com/specialistvlad/flowlab/internal/workspace"
)

// Library resolves catalog type names to domain functions and methods.
// *registry.Registry implements it.
type Library interface {
	Func(name string) (*registry.Function, error)
	Method(receiver any, name string) (*registry.Function, error)
}

var _ Library = (*registry.Registry)(nil)

// tracked calls a registry function and hands its result to the middleware
// together with the expression that produced it.
type tracked struct {
	fn       *registry.Function
	mw       middleware.Middleware
	receiver any
	method   string
}

func (t *tracked) Call(args []any, named map[string]any) (any, error) {
	out, err := t.fn.Call(args, named)
	if err != nil {
		return nil, err
	}
	t.mw.Track(out, t.origin(args, named))
	return out, nil
}

func (t *tracked) Defaults() map[string]any {
	return t.fn.Defaults()
}

func (t *tracked) origin(args []any, named map[string]any) string {
	parts := make([]string, 0, len(args)+len(named))
	for _, a := range args {
		parts = append(parts, renderArg(a))
	}
	keys := make([]string, 0, len(named))
	for k := range named {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+renderArg(named[k]))
	}
	call := t.fn.Name
	if t.method != "" {
		call = renderArg(t.receiver) + "." + t.method
	}
	return call + "(" + strings.Join(parts, ", ") + ")"
}

func renderArg(v any) string {
	if variable, ok := workspace.AsVariable(v); ok && variable.Varname() != "" {
		return variable.Varname()
	}
	switch x := v.(type) {
	case nil:
		return "[]"
	case string:
		return "'" + x + "'"
	}
	return fmt.Sprint(v)
}

// methodResolver adapts a Library to nodegraph.MethodResolver.
type methodResolver struct {
	lib Library
	mw  middleware.Middleware
}

func (r methodResolver) ResolveMethod(receiver any, name string) (nodegraph.Callable, error) {
	fn, err := r.lib.Method(receiver, name)
	if err != nil {
		return nil, err
	}
	return &tracked{fn: fn, mw: r.mw, receiver: receiver, method: name}, nil
}
