package nodegraph

import (
	"maps"
	"slices"
)

// Callable is a function a node can invoke.
type Callable interface {
	Call(args []any, named map[string]any) (any, error)
}

// Defaulter is implemented by callables that expose their parameter defaults.
type Defaulter interface {
	Defaults() map[string]any
}

// MethodResolver looks up a named method on a held value.
type MethodResolver interface {
	ResolveMethod(receiver any, name string) (Callable, error)
}

// Edge is one end of a dataflow connection.
type Edge struct {
	Other string
	Index int
	Order int
}

// Node is a vertex of a Graph. Its payload depends on the kind: a value for
// Object and ObjectLiteral, a Callable for Func and ReturnFunc, a method name
// for Method and MethodAsFunction.
type Node struct {
	id   string
	kind Kind

	parents  []Edge
	children []Edge
	owners   []string
	subnodes []string

	value  any
	fn     Callable
	method string

	sigDefaults map[string]any
	overrides   map[string]any
	captured    bool
}

func newNode(id string, kind Kind) *Node {
	return &Node{id: id, kind: kind, overrides: make(map[string]any)}
}

// NewRoot creates a passive container node.
func NewRoot(id string) *Node {
	return newNode(id, KindRoot)
}

// NewObject creates an assignable value holder.
func NewObject(id string, value any) *Node {
	n := newNode(id, KindObject)
	n.value = value
	return n
}

// NewObjectLiteral creates a user-edited literal value holder.
func NewObjectLiteral(id string, value any) *Node {
	n := newNode(id, KindObjectLiteral)
	n.value = value
	return n
}

// NewFunc creates a pure function wrapper. Parameter defaults are captured
// from fn when it implements Defaulter.
func NewFunc(id string, fn Callable) *Node {
	n := newNode(id, KindFunc)
	n.setFunc(fn)
	return n
}

// NewMethod creates a node invoking method on the values of its Object owners.
func NewMethod(id, method string) *Node {
	n := newNode(id, KindMethod)
	n.method = method
	return n
}

// NewMethodAsFunction creates a node invoking method on its first argument.
// Defaults are captured on the first call, once the receiver is known.
func NewMethodAsFunction(id, method string) *Node {
	n := newNode(id, KindMethodAsFunction)
	n.method = method
	return n
}

// NewReturnFunc creates a flow-control evaluator. With a nil fn it reports
// whether its first argument is non-nil.
func NewReturnFunc(id string, fn Callable) *Node {
	n := newNode(id, KindReturnFunc)
	n.setFunc(fn)
	return n
}

func (n *Node) setFunc(fn Callable) {
	n.fn = fn
	n.sigDefaults = nil
	if d, ok := fn.(Defaulter); ok {
		n.sigDefaults = d.Defaults()
	}
}

// ID returns the node id.
func (n *Node) ID() string { return n.id }

// Kind returns the node variant.
func (n *Node) Kind() Kind { return n.kind }

// Model returns the execution model of the node's kind.
func (n *Node) Model() ExecutionModel { return n.kind.Model() }

// MethodName returns the bound method name of Method and MethodAsFunction nodes.
func (n *Node) MethodName() string { return n.method }

// Parents returns a copy of the parent edges.
func (n *Node) Parents() []Edge { return slices.Clone(n.parents) }

// Children returns a copy of the child edges.
func (n *Node) Children() []Edge { return slices.Clone(n.children) }

// Owners returns the ids of the owning nodes.
func (n *Node) Owners() []string { return slices.Clone(n.owners) }

// Subnodes returns the ids of the owned nodes.
func (n *Node) Subnodes() []string { return slices.Clone(n.subnodes) }

// HasEdges reports whether the node has any dataflow edge.
func (n *Node) HasEdges() bool {
	return len(n.parents) > 0 || len(n.children) > 0
}

// Defaults returns the signature defaults merged with caller overrides.
func (n *Node) Defaults() map[string]any {
	out := maps.Clone(n.sigDefaults)
	if out == nil {
		out = make(map[string]any)
	}
	maps.Copy(out, n.overrides)
	return out
}

// Overrides returns a copy of the caller-supplied defaults only.
func (n *Node) Overrides() map[string]any {
	return maps.Clone(n.overrides)
}

// ParentsAt returns the parent ids at order, sorted by edge index.
func (n *Node) ParentsAt(order int) []string {
	edges := make([]Edge, 0, len(n.parents))
	for _, e := range n.parents {
		if e.Order == order {
			edges = append(edges, e)
		}
	}
	slices.SortStableFunc(edges, func(a, b Edge) int { return a.Index - b.Index })
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.Other
	}
	return ids
}

func (n *Node) hasChildAt(id string, order int) bool {
	return slices.ContainsFunc(n.children, func(e Edge) bool { return e.Other == id && e.Order == order })
}

func (n *Node) hasParentAt(id string, order int) bool {
	return slices.ContainsFunc(n.parents, func(e Edge) bool { return e.Other == id && e.Order == order })
}

func (n *Node) parentSlotTaken(index, order int) bool {
	return slices.ContainsFunc(n.parents, func(e Edge) bool { return e.Index == index && e.Order == order })
}

func (n *Node) checkChild(other *Node) bool {
	return n.kind.acceptsChild(other.kind)
}

func (n *Node) checkParent(other *Node) bool {
	if !n.kind.acceptsParent(other.kind) {
		return false
	}
	if n.kind == KindObject {
		return len(n.ParentsAt(n.Model().Order)) < 1
	}
	return true
}

func (n *Node) checkOwner(other *Node) bool {
	return n.kind.acceptsOwner(other.kind)
}

func (n *Node) checkSubnode(other *Node) bool {
	return n.kind.acceptsSubnode(other.kind)
}
