package flatgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/engine"
	"github.com/specialistvlad/flowlab/internal/nodegraph"
)

// Representer is implemented by held values that render themselves for the
// editor. Values without it are sent as they are.
type Representer interface {
	Repr() (any, error)
}

// ChangeSet maps node ids to their refreshed representation. A nil entry
// means the node holds nothing to show.
type ChangeSet map[string]any

// ErrorKind classifies execution failures.
type ErrorKind string

const (
	ErrKindNotExecutable  ErrorKind = "not_executable"
	ErrKindInternal       ErrorKind = "internal"
	ErrKindRepresentation ErrorKind = "representation"
	ErrKindEngine         ErrorKind = "engine"
)

// ExecError is the tagged failure of ExecuteNode. SourceID names the node a
// call failed in, for internal errors.
type ExecError struct {
	Kind     ErrorKind
	Message  string
	SourceID string
	Err      error
}

func (e *ExecError) Error() string {
	return e.Message
}

func (e *ExecError) Unwrap() error { return e.Err }

// ObjectRepresentationError is returned when a held value fails to render.
type ObjectRepresentationError struct {
	NodeID string
	Err    error
}

func (e *ObjectRepresentationError) Error() string {
	return fmt.Sprintf("representing %s: %v", e.NodeID, e.Err)
}

func (e *ObjectRepresentationError) Unwrap() error { return e.Err }

func classify(id string, err error) *ExecError {
	var internal *nodegraph.InternalExecutionError
	var repr *ObjectRepresentationError
	switch {
	case errors.Is(err, engine.ErrNotExecutable):
		return &ExecError{Kind: ErrKindNotExecutable, Message: fmt.Sprintf("Not executable: %s", id), Err: err}
	case errors.As(err, &internal):
		return &ExecError{Kind: ErrKindInternal, Message: fmt.Sprintf("Run exc.: %v", internal.Err), SourceID: internal.NodeID, Err: err}
	case errors.As(err, &repr):
		return &ExecError{Kind: ErrKindRepresentation, Message: fmt.Sprintf("Repr. exc.: %v", repr.Err), SourceID: repr.NodeID, Err: err}
	}
	return &ExecError{Kind: ErrKindEngine, Message: fmt.Sprintf("Engine exc.: %v", err), Err: err}
}

// ExecuteNode runs node id. The subtree is evaluated under the middleware's
// execution proxy, and the representations of the node and any owner it
// changed are returned. The node's previous value is released only when the
// run succeeds, so a failed run leaves it held and bound. Every failure is
// an *ExecError.
func (fg *FlatGraph) ExecuteNode(ctx context.Context, id string) (ChangeSet, error) {
	logger := ctxlog.FromContext(ctx).With("id", id)
	logger.Debug("Executing node.")

	if _, ok := fg.nodeCache[id]; !ok {
		return nil, classify(id, fmt.Errorf("%w: %s", nodegraph.ErrUnknownNode, id))
	}
	tree, err := engine.BuildSubtree(fg.graph, id)
	if err != nil {
		logger.Debug("Node is not executable.", "error", err)
		return nil, classify(id, err)
	}
	logger.Debug("Subtree built.", "tree", tree.String())

	n, _ := fg.graph.Node(id)
	var held any
	if n.Model().CanAssign {
		held, _ = fg.graph.Object(id)
	}

	result, err := fg.mw.ExecuteThroughProxy(func() (any, error) {
		v, err := engine.EvaluateSubtree(fg.graph, tree)
		if err == nil && held != nil {
			fg.mw.Deregister(held)
		}
		return v, err
	})
	if err != nil {
		execErr := classify(id, err)
		logger.Warn("Execution failed.", "kind", string(execErr.Kind), "source", execErr.SourceID, "error", err)
		return nil, execErr
	}
	logger.Debug("Execution yields.", "type", fmt.Sprintf("%T", result))

	changes := make(ChangeSet)
	for _, key := range fg.updateList(n) {
		repr, err := fg.represent(key)
		if err != nil {
			return nil, classify(id, err)
		}
		changes[key] = repr
	}
	return changes, nil
}

// updateList names the nodes whose representation an execution of n may
// change: n itself, the Object feeding a method-as-function, and the Object
// owners of a method.
func (fg *FlatGraph) updateList(n *nodegraph.Node) []string {
	ids := []string{n.ID()}
	switch n.Kind() {
	case nodegraph.KindMethodAsFunction:
		for _, parent := range n.ParentsAt(n.Model().Order) {
			if p, err := fg.graph.Node(parent); err == nil && p.Kind() == nodegraph.KindObject {
				ids = append(ids, parent)
				break
			}
		}
	case nodegraph.KindMethod:
		for _, owner := range n.Owners() {
			if o, err := fg.graph.Node(owner); err == nil && o.Kind() == nodegraph.KindObject {
				ids = append(ids, owner)
			}
		}
	}
	return ids
}

// represent renders the value held by an assignable node. Nodes that can
// not hold values render as nil.
func (fg *FlatGraph) represent(id string) (any, error) {
	n, err := fg.graph.Node(id)
	if err != nil {
		return nil, err
	}
	if !n.Model().CanAssign {
		return nil, nil
	}
	held, err := fg.graph.Object(id)
	if err != nil || held == nil {
		return nil, err
	}
	r, ok := held.(Representer)
	if !ok {
		return held, nil
	}
	repr, err := r.Repr()
	if err != nil {
		return nil, &ObjectRepresentationError{NodeID: id, Err: err}
	}
	return repr, nil
}
