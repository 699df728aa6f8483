package nodegraph

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
)

// Assign sets the payload of a node. The effect depends on its kind:
//
//   - Object, ObjectLiteral: stores value; owned Method nodes are re-validated.
//   - Func: a Callable replaces the function, a map[string]any merges into
//     the defaults, anything else is ignored.
//   - MethodAsFunction: a string rebinds the method name, a map[string]any
//     merges into the defaults, anything else is ignored.
//   - Method, ReturnFunc, Root: ErrNotAssignable.
func (g *Graph) Assign(id string, value any) error {
	n, err := g.Node(id)
	if err != nil {
		return err
	}

	switch n.kind {
	case KindObject, KindObjectLiteral:
		n.value = value
		for _, subID := range n.subnodes {
			sub := g.nodes[subID]
			if sub != nil && sub.kind == KindMethod && !sub.checkOwner(n) {
				return inconsistent(sub, "owner %s no longer valid", id)
			}
		}
	case KindFunc:
		switch v := value.(type) {
		case Callable:
			n.setFunc(v)
		case map[string]any:
			maps.Copy(n.overrides, v)
		}
	case KindMethodAsFunction:
		switch v := value.(type) {
		case string:
			n.method = v
			n.captured = false
			n.sigDefaults = nil
		case map[string]any:
			maps.Copy(n.overrides, v)
		}
	default:
		return fmt.Errorf("%w: %s %s", ErrNotAssignable, n.kind, id)
	}
	return nil
}

// ResetDefaults drops every caller override of a Func or MethodAsFunction node.
func (g *Graph) ResetDefaults(id string) error {
	n, err := g.Node(id)
	if err != nil {
		return err
	}
	n.overrides = make(map[string]any)
	return nil
}

// Object returns the held value, callable or method name of a node.
func (g *Graph) Object(id string) (any, error) {
	n, err := g.Node(id)
	if err != nil {
		return nil, err
	}
	switch n.kind {
	case KindObject, KindObjectLiteral:
		return n.value, nil
	case KindFunc, KindReturnFunc:
		if n.fn == nil {
			return nil, nil
		}
		return n.fn, nil
	case KindMethod, KindMethodAsFunction:
		return n.method, nil
	}
	return nil, nil
}

// Call invokes a node with positional args. Failures are returned as an
// *InternalExecutionError tagged with id, unless the failure already is one.
func (g *Graph) Call(id string, args []any) (any, error) {
	n, err := g.Node(id)
	if err != nil {
		return nil, err
	}
	out, err := g.call(n, args)
	if err != nil {
		var internal *InternalExecutionError
		if errors.As(err, &internal) {
			return nil, err
		}
		return nil, &InternalExecutionError{NodeID: id, Err: err}
	}
	return out, nil
}

func (g *Graph) call(n *Node, args []any) (any, error) {
	switch n.kind {
	case KindFunc:
		if n.fn == nil {
			return nil, errors.New("no function assigned")
		}
		return n.fn.Call(args, n.Defaults())

	case KindMethod:
		var last any
		for _, ownerID := range n.owners {
			owner := g.nodes[ownerID]
			if owner == nil || owner.kind != KindObject || isNil(owner.value) {
				continue
			}
			fn, err := g.resolve(owner.value, n.method)
			if err != nil {
				return nil, err
			}
			last, err = fn.Call(args, n.Defaults())
			if err != nil {
				return nil, err
			}
		}
		return last, nil

	case KindMethodAsFunction:
		if len(args) == 0 || isNil(args[0]) {
			return nil, fmt.Errorf("method %q called without a receiver", n.method)
		}
		fn, err := g.resolve(args[0], n.method)
		if err != nil {
			return nil, err
		}
		if !n.captured {
			if d, ok := fn.(Defaulter); ok {
				n.sigDefaults = d.Defaults()
			}
			n.captured = true
		}
		return fn.Call(args[1:], n.Defaults())

	case KindReturnFunc:
		if n.fn != nil {
			return n.fn.Call(args, n.Defaults())
		}
		if len(args) > 0 {
			return !isNil(args[0]), nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%s node is not callable", n.kind)
}

func (g *Graph) resolve(receiver any, method string) (Callable, error) {
	if g.resolver == nil {
		return nil, &NoMethodOfThatNameError{Method: method, Receiver: fmt.Sprintf("%T", receiver), Err: errors.New("no method resolver")}
	}
	fn, err := g.resolver.ResolveMethod(receiver, method)
	if err != nil {
		return nil, &NoMethodOfThatNameError{Method: method, Receiver: fmt.Sprintf("%T", receiver), Err: err}
	}
	return fn, nil
}

// isNil reports whether v is nil or a typed nil pointer, map or slice.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}
