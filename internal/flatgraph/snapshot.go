package flatgraph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/nodegraph"
	"github.com/specialistvlad/flowlab/internal/workspace"
)

// ExtractGraphDef returns the structural definition of the graph: every
// node_add and link_add command still in effect, and the configuration of
// literal and function nodes. Values held by Object nodes are not part of
// it.
func (fg *FlatGraph) ExtractGraphDef() (GraphDef, error) {
	def := NewGraphDef()
	for id, t := range fg.nodeCache {
		def.Nodes[id] = t
	}
	for id, links := range fg.linkCache {
		if len(links) > 0 {
			def.Links[id] = slices.Clone(links)
		}
	}
	for id := range fg.nodeCache {
		data, ok, err := fg.nodeConfig(id)
		if err != nil {
			return GraphDef{}, err
		}
		if ok {
			def.Datas[id] = data
		}
	}
	return def, nil
}

// nodeConfig encodes what node_data would have to replay for id.
func (fg *FlatGraph) nodeConfig(id string) (string, bool, error) {
	n, err := fg.graph.Node(id)
	if err != nil {
		return "", false, err
	}
	var v any
	switch n.Kind() {
	case nodegraph.KindObjectLiteral:
		held, _ := fg.graph.Object(id)
		if held == nil {
			return "", false, nil
		}
		v = held
	case nodegraph.KindFunc, nodegraph.KindMethodAsFunction:
		var parts []any
		if method := fg.reboundMethod(id, n); method != "" {
			parts = append(parts, method)
		}
		if overrides := n.Overrides(); len(overrides) > 0 {
			parts = append(parts, overrides)
		}
		switch len(parts) {
		case 0:
			return "", false, nil
		case 1:
			v = parts[0]
		default:
			v = parts
		}
	default:
		return "", false, nil
	}
	s, err := sonic.ConfigStd.MarshalToString(v)
	if err != nil {
		return "", false, fmt.Errorf("encoding data of %s: %w", id, err)
	}
	return s, true, nil
}

// reboundMethod returns the method a method-as-function node was rebound to
// through node data, or "" while it still calls the method of its type.
func (fg *FlatGraph) reboundMethod(id string, n *nodegraph.Node) string {
	if n.Kind() != nodegraph.KindMethodAsFunction {
		return ""
	}
	nt, err := fg.types.Retrieve(fg.nodeCache[id].TypeAddress)
	if err != nil || nt.Type == n.MethodName() {
		return ""
	}
	return n.MethodName()
}

// InjectGraphDef replays def into the graph: nodes, then dataflow links,
// then node data, then ownership links. Every failing command is reported
// and the rest still applied.
func (fg *FlatGraph) InjectGraphDef(ctx context.Context, def GraphDef) error {
	logger := ctxlog.FromContext(ctx)
	var errs []error
	note := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	ids := slices.Collect(maps.Keys(def.Nodes))
	sort.Strings(ids)
	for _, id := range ids {
		t := def.Nodes[id]
		note(fg.NodeAdd(ctx, t.X, t.Y, t.ID, t.Name, t.Label, t.TypeAddress))
	}

	var ownership []LinkTuple
	sources := slices.Collect(maps.Keys(def.Links))
	sort.Strings(sources)
	for _, id := range sources {
		for _, l := range def.Links[id] {
			if l.IsOwnership() {
				ownership = append(ownership, l)
				continue
			}
			note(fg.LinkAdd(ctx, l.ID1, l.Idx1, l.ID2, l.Idx2, l.Order))
		}
	}

	dataIDs := slices.Collect(maps.Keys(def.Datas))
	sort.Strings(dataIDs)
	for _, id := range dataIDs {
		data := def.Datas[id]
		note(fg.NodeData(ctx, id, &data))
	}

	for _, l := range ownership {
		note(fg.LinkAdd(ctx, l.ID1, l.Idx1, l.ID2, l.Idx2, l.Order))
	}

	logger.Debug("Graph definition injected.", "nodes", len(def.Nodes), "errors", len(errs))
	return errors.Join(errs...)
}

// snapshotBlob is the serialised form of a flat graph. Object values that
// live in the workspace are stored by variable name and come back from the
// middleware sidecar. Other held values are stored inline.
type snapshotBlob struct {
	GraphDef []byte            `msgpack:"graphdef"`
	Bindings map[string]string `msgpack:"bindings"`
	Values   map[string]any    `msgpack:"values"`
}

// Snapshot serialises the graph definition together with the values held by
// Object nodes.
func (fg *FlatGraph) Snapshot() ([]byte, error) {
	def, err := fg.ExtractGraphDef()
	if err != nil {
		return nil, err
	}
	encoded, err := EncodeGraphDef(def)
	if err != nil {
		return nil, err
	}
	blob := snapshotBlob{
		GraphDef: encoded,
		Bindings: make(map[string]string),
		Values:   make(map[string]any),
	}
	for _, id := range fg.objectIDs() {
		held, _ := fg.graph.Object(id)
		if held == nil {
			continue
		}
		if variable, ok := workspace.AsVariable(held); ok {
			if variable.Varname() != "" {
				blob.Bindings[id] = variable.Varname()
			}
			continue
		}
		blob.Values[id] = held
	}
	b, err := msgpack.Marshal(&blob)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return b, nil
}

// RestoreSnapshot rebuilds an empty graph from a Snapshot blob. Workspace
// bound values are looked up through the middleware, so its sidecar must
// have been loaded first. A binding the workspace no longer knows leaves
// its node empty.
func (fg *FlatGraph) RestoreSnapshot(ctx context.Context, b []byte) error {
	if fg.Len() > 0 {
		return errors.New("restore snapshot: graph is not empty")
	}
	var blob snapshotBlob
	if err := msgpack.Unmarshal(b, &blob); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	def, err := DecodeGraphDef(blob.GraphDef)
	if err != nil {
		return err
	}
	if err := fg.InjectGraphDef(ctx, def); err != nil {
		return err
	}

	logger := ctxlog.FromContext(ctx)
	var errs []error
	for id, varname := range blob.Bindings {
		v, err := fg.mw.Bind(varname)
		if err != nil {
			logger.Warn("Skipping unresolved binding.", "id", id, "varname", varname, "error", err)
			continue
		}
		if err := fg.graph.Assign(id, v); err != nil {
			errs = append(errs, err)
		}
	}
	for id, v := range blob.Values {
		if err := fg.graph.Assign(id, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
