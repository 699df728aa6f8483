package flatgraph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/bytedance/sonic"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/middleware"
	"github.com/specialistvlad/flowlab/internal/nodegraph"
	"github.com/specialistvlad/flowlab/internal/typetree"
)

const rootID = "__root__"

var (
	// ErrNodeHasLinks is returned when removing a node that still has edges
	// or ownership relations.
	ErrNodeHasLinks = errors.New("can not remove node with existing links")
	// ErrLinkNotCached is returned when removing a link that was never added.
	ErrLinkNotCached = errors.New("link not found")
)

// UserDataSetter is implemented by held values that accept editor data.
type UserDataSetter interface {
	SetUserData(data any) error
}

// Coord is an editor position.
type Coord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FlatGraph is a root node plus one layer of children, driven by editor
// commands.
type FlatGraph struct {
	types *typetree.Tree
	lib   Library
	mw    middleware.Middleware
	graph *nodegraph.Graph

	nodeCache map[string]NodeTuple
	linkCache map[string][]LinkTuple
}

// New creates an empty flat graph. Node types are resolved through types,
// functions and methods through lib. Every value the graph computes is
// reported to mw.
func New(types *typetree.Tree, lib Library, mw middleware.Middleware) *FlatGraph {
	g := nodegraph.New(methodResolver{lib: lib, mw: mw})
	if err := g.Add(nodegraph.NewRoot(rootID)); err != nil {
		panic(err)
	}
	return &FlatGraph{
		types:     types,
		lib:       lib,
		mw:        mw,
		graph:     g,
		nodeCache: make(map[string]NodeTuple),
		linkCache: make(map[string][]LinkTuple),
	}
}

// Middleware returns the middleware the graph reports to.
func (fg *FlatGraph) Middleware() middleware.Middleware {
	return fg.mw
}

// Len returns the number of nodes, root excluded.
func (fg *FlatGraph) Len() int {
	return len(fg.nodeCache)
}

// IDs returns the node ids, sorted.
func (fg *FlatGraph) IDs() []string {
	ids := slices.Collect(maps.Keys(fg.nodeCache))
	sort.Strings(ids)
	return ids
}

// Node returns the cached add command of id.
func (fg *FlatGraph) Node(id string) (NodeTuple, bool) {
	t, ok := fg.nodeCache[id]
	return t, ok
}

// Object returns the payload currently held by node id.
func (fg *FlatGraph) Object(id string) (any, error) {
	if _, ok := fg.nodeCache[id]; !ok {
		return nil, fmt.Errorf("%w: %s", nodegraph.ErrUnknownNode, id)
	}
	return fg.graph.Object(id)
}

func (fg *FlatGraph) createNode(id string, nt *typetree.NodeType) (*nodegraph.Node, error) {
	switch nt.BaseType {
	case typetree.BaseObject, typetree.BaseObjectIData, typetree.BaseObjectIFunc:
		return nodegraph.NewObject(id, nil), nil
	case typetree.BaseObjectLiteral:
		return nodegraph.NewObjectLiteral(id, nil), nil
	case typetree.BaseFunction, typetree.BaseFunctionNamed:
		fn, err := fg.lib.Func(nt.Type)
		if err != nil {
			return nil, err
		}
		return nodegraph.NewFunc(id, &tracked{fn: fn, mw: fg.mw}), nil
	case typetree.BaseMethod:
		return nodegraph.NewMethod(id, nt.Type), nil
	case typetree.BaseMethodAsFunction:
		return nodegraph.NewMethodAsFunction(id, nt.Type), nil
	case typetree.BaseReturnFunction:
		fn, err := fg.lib.Func(nt.Type)
		if err != nil {
			// Without a registered evaluator the node tests its input for nil.
			return nodegraph.NewReturnFunc(id, nil), nil
		}
		return nodegraph.NewReturnFunc(id, &tracked{fn: fn, mw: fg.mw}), nil
	}
	return nil, fmt.Errorf("unsupported basetype %q", nt.BaseType)
}

// NodeAdd creates a node of the type at typeAddress and attaches it to the
// root. The catalog data of function-like types seeds the node defaults.
func (fg *FlatGraph) NodeAdd(ctx context.Context, x, y float64, id, name, label, typeAddress string) error {
	logger := ctxlog.FromContext(ctx)

	if _, exists := fg.nodeCache[id]; exists || id == rootID {
		return fmt.Errorf("%w: %s", nodegraph.ErrNodeExists, id)
	}
	nt, err := fg.types.Retrieve(typeAddress)
	if err != nil {
		return err
	}
	n, err := fg.createNode(id, nt)
	if err != nil {
		return fmt.Errorf("node_add %s (%s): %w", id, typeAddress, err)
	}
	if err := fg.graph.Add(n); err != nil {
		return err
	}
	if err := fg.graph.Own(rootID, id); err != nil {
		_ = fg.graph.Remove(id)
		return err
	}
	if len(nt.Data) > 0 && (n.Kind() == nodegraph.KindFunc || n.Kind() == nodegraph.KindMethodAsFunction) {
		if err := fg.graph.Assign(id, maps.Clone(nt.Data)); err != nil {
			return err
		}
	}

	fg.nodeCache[id] = NodeTuple{X: x, Y: y, ID: id, Name: name, Label: label, TypeAddress: typeAddress}
	logger.Debug("Created node.", "id", id, "kind", n.Kind().String(), "type", typeAddress)
	return nil
}

// NodeRemove detaches and drops node id. Removing an absent node is a no-op.
func (fg *FlatGraph) NodeRemove(ctx context.Context, id string) error {
	if _, ok := fg.nodeCache[id]; !ok {
		return nil
	}
	n, err := fg.graph.Node(id)
	if err != nil {
		return err
	}
	if n.HasEdges() || len(n.Subnodes()) > 0 || len(n.Owners()) > 1 {
		return fmt.Errorf("node_rm %s: %w", id, ErrNodeHasLinks)
	}
	if err := fg.graph.Disown(rootID, id); err != nil {
		return err
	}
	if err := fg.graph.Remove(id); err != nil {
		return err
	}
	delete(fg.nodeCache, id)
	delete(fg.linkCache, id)
	ctxlog.FromContext(ctx).Debug("Deleted node.", "id", id)
	return nil
}

// ownership orders an ownership link so the Object side comes first.
func (fg *FlatGraph) ownership(id1, id2 string) (owner, sub string, err error) {
	n1, err := fg.graph.Node(id1)
	if err != nil {
		return "", "", err
	}
	if n1.Kind() == nodegraph.KindObject {
		return id1, id2, nil
	}
	return id2, id1, nil
}

func (fg *FlatGraph) checkMember(ids ...string) error {
	for _, id := range ids {
		if _, ok := fg.nodeCache[id]; !ok {
			return fmt.Errorf("%w: %s", nodegraph.ErrUnknownNode, id)
		}
	}
	return nil
}

// LinkAdd connects output idx1 of id1 to input idx2 of id2 at order. When
// both indices are OwnershipIndex the link makes the Object side the owner
// of the other node instead.
func (fg *FlatGraph) LinkAdd(ctx context.Context, id1 string, idx1 int, id2 string, idx2 int, order int) error {
	if err := fg.checkMember(id1, id2); err != nil {
		return err
	}
	t := LinkTuple{ID1: id1, Idx1: idx1, ID2: id2, Idx2: idx2, Order: order}
	if t.IsOwnership() {
		owner, sub, err := fg.ownership(id1, id2)
		if err != nil {
			return err
		}
		if err := fg.graph.Own(owner, sub); err != nil {
			return err
		}
	} else if err := fg.graph.Connect(id1, idx1, id2, idx2, order); err != nil {
		return err
	}

	fg.linkCache[id1] = append(fg.linkCache[id1], t)
	ctxlog.FromContext(ctx).Debug("Added link.", "from", id1, "fromIdx", idx1, "to", id2, "toIdx", idx2, "order", order)
	return nil
}

// LinkRemove reverses LinkAdd. An ownership link may be removed from either
// side.
func (fg *FlatGraph) LinkRemove(ctx context.Context, id1 string, idx1 int, id2 string, idx2 int, order int) error {
	if err := fg.checkMember(id1, id2); err != nil {
		return err
	}
	t := LinkTuple{ID1: id1, Idx1: idx1, ID2: id2, Idx2: idx2, Order: order}
	key, pos := fg.findLink(t)
	if t.IsOwnership() && pos < 0 {
		key, pos = fg.findLink(LinkTuple{ID1: id2, Idx1: idx2, ID2: id1, Idx2: idx1, Order: order})
	}
	if pos < 0 {
		return fmt.Errorf("link_rm %s: %w", t.String(), ErrLinkNotCached)
	}

	if t.IsOwnership() {
		owner, sub, err := fg.ownership(id1, id2)
		if err != nil {
			return err
		}
		if err := fg.graph.Disown(owner, sub); err != nil {
			return err
		}
	} else if err := fg.graph.Disconnect(id1, idx1, id2, idx2, order); err != nil {
		return err
	}

	fg.linkCache[key] = slices.Delete(fg.linkCache[key], pos, pos+1)
	if len(fg.linkCache[key]) == 0 {
		delete(fg.linkCache, key)
	}
	ctxlog.FromContext(ctx).Debug("Removed link.", "from", id1, "fromIdx", idx1, "to", id2, "toIdx", idx2, "order", order)
	return nil
}

func (fg *FlatGraph) findLink(t LinkTuple) (string, int) {
	return t.ID1, slices.Index(fg.linkCache[t.ID1], t)
}

// NodeLabel updates the cached label. The graph model has no labels.
func (fg *FlatGraph) NodeLabel(ctx context.Context, id, label string) error {
	t, ok := fg.nodeCache[id]
	if !ok {
		return fmt.Errorf("%w: %s", nodegraph.ErrUnknownNode, id)
	}
	t.Label = label
	fg.nodeCache[id] = t
	ctxlog.FromContext(ctx).Debug("Node label updated in cache only.", "id", id, "label", label)
	return nil
}

// NodeData applies editor data to a node. A nil payload, or the JSON null,
// clears the node. Literal, function and method-as-function nodes take the
// decoded value directly. A method-as-function node rebinds its method on a
// string and applies each element of a list in turn. Object nodes forward it to the held value's
// SetUserData hook. A payload that is not valid JSON is logged and ignored.
func (fg *FlatGraph) NodeData(ctx context.Context, id string, payload *string) error {
	logger := ctxlog.FromContext(ctx).With("id", id)

	n, err := fg.graph.Node(id)
	if err != nil || id == rootID {
		return fmt.Errorf("%w: %s", nodegraph.ErrUnknownNode, id)
	}
	switch n.Kind() {
	case nodegraph.KindObject, nodegraph.KindObjectLiteral, nodegraph.KindFunc, nodegraph.KindMethodAsFunction:
	default:
		logger.Debug("node_data ignored for node kind.", "kind", n.Kind().String())
		return nil
	}

	var data any
	if payload != nil {
		if err := sonic.UnmarshalString(*payload, &data); err != nil {
			logger.Warn("node_data payload could not be decoded, ignoring.", "error", err)
			return nil
		}
	}

	if data == nil {
		switch n.Kind() {
		case nodegraph.KindObject, nodegraph.KindObjectLiteral:
			held, _ := fg.graph.Object(id)
			fg.mw.Deregister(held)
			logger.Debug("node_data clearing node.")
			return fg.graph.Assign(id, nil)
		default:
			logger.Debug("node_data clearing defaults.")
			return fg.graph.ResetDefaults(id)
		}
	}

	switch n.Kind() {
	case nodegraph.KindMethodAsFunction:
		// A list carries a method name and overrides, applied in order.
		if parts, ok := data.([]any); ok {
			logger.Debug("node_data assigning decoded parts.", "parts", len(parts))
			for _, part := range parts {
				if err := fg.graph.Assign(id, part); err != nil {
					return err
				}
			}
			return nil
		}
		logger.Debug("node_data assigning decoded value.", "kind", n.Kind().String())
		return fg.graph.Assign(id, data)
	case nodegraph.KindObjectLiteral, nodegraph.KindFunc:
		logger.Debug("node_data assigning decoded value.", "kind", n.Kind().String())
		return fg.graph.Assign(id, data)
	}

	held, _ := fg.graph.Object(id)
	setter, ok := held.(UserDataSetter)
	if !ok {
		logger.Debug("node_data ignored, held value takes no user data.", "type", fmt.Sprintf("%T", held))
		return nil
	}
	if err := setter.SetUserData(data); err != nil {
		logger.Warn("node_data failed to set user data.", "error", err)
		return fmt.Errorf("node_data %s: %w", id, err)
	}
	logger.Debug("node_data injected into held value.")
	return nil
}

// Apply runs one elementary command.
func (fg *FlatGraph) Apply(ctx context.Context, cmd Command) error {
	fn, ok := commands[cmd.Kind()]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind())
	}
	return fn(ctx, fg, cmd.Args())
}

// GraphUpdate applies every command of batch in order. A failing command
// does not stop the batch; the failures are joined into the returned error.
func (fg *FlatGraph) GraphUpdate(ctx context.Context, batch Batch) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Graph update.", "commands", batch.Len())

	var errs []error
	for _, group := range batch {
		for _, cmd := range group {
			if err := fg.Apply(ctx, cmd); err != nil {
				logger.Warn("Graph update command failed.", "command", cmd.String(), "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", cmd, err))
			}
		}
	}
	return errors.Join(errs...)
}

// GraphCoords updates cached node positions. Unknown ids are ignored.
func (fg *FlatGraph) GraphCoords(coords map[string]Coord) {
	for id, c := range coords {
		t, ok := fg.nodeCache[id]
		if !ok {
			continue
		}
		t.X, t.Y = c.X, c.Y
		fg.nodeCache[id] = t
	}
}

// objectIDs returns the ids of plain Object nodes, sorted.
func (fg *FlatGraph) objectIDs() []string {
	var ids []string
	for _, id := range fg.IDs() {
		if n, err := fg.graph.Node(id); err == nil && n.Kind() == nodegraph.KindObject {
			ids = append(ids, id)
		}
	}
	return ids
}

// ResetAllObjects deregisters and clears the value of every Object node.
// Structure is untouched.
func (fg *FlatGraph) ResetAllObjects(ctx context.Context) error {
	var errs []error
	for _, id := range fg.objectIDs() {
		held, _ := fg.graph.Object(id)
		fg.mw.Deregister(held)
		if err := fg.graph.Assign(id, nil); err != nil {
			errs = append(errs, err)
		}
	}
	ctxlog.FromContext(ctx).Debug("Reset all object nodes.")
	return errors.Join(errs...)
}

// HeldValues returns the number of Object nodes holding a value.
func (fg *FlatGraph) HeldValues() int {
	count := 0
	for _, id := range fg.objectIDs() {
		if v, _ := fg.graph.Object(id); v != nil {
			count++
		}
	}
	return count
}

// DataUpdate returns the representation of every Object node, keyed by id.
// Empty nodes map to nil.
func (fg *FlatGraph) DataUpdate() (map[string]any, error) {
	out := make(map[string]any)
	for _, id := range fg.objectIDs() {
		repr, err := fg.represent(id)
		if err != nil {
			return nil, err
		}
		out[id] = repr
	}
	return out, nil
}

// Shutdown finalises the middleware, releasing every registered value.
func (fg *FlatGraph) Shutdown(ctx context.Context) {
	fg.mw.Finalize()
	ctxlog.FromContext(ctx).Debug("Flat graph shut down.")
}
