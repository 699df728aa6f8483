package nodegraph

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAssignable is returned by Assign on kinds that never hold a value.
	ErrNotAssignable = errors.New("node is not assignable")
	// ErrUnknownNode is returned when an id is not in the graph.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNodeExists is returned by Add on an id collision.
	ErrNodeExists = errors.New("node already exists")
)

// GraphInconsistencyError reports an edge or containment operation rejected
// by the connectivity rules. It is a client error and never retried.
type GraphInconsistencyError struct {
	NodeID string
	Kind   Kind
	Msg    string
}

func (e *GraphInconsistencyError) Error() string {
	return fmt.Sprintf("(%s %s): %s", e.Kind, e.NodeID, e.Msg)
}

func inconsistent(n *Node, format string, args ...any) error {
	return &GraphInconsistencyError{NodeID: n.id, Kind: n.kind, Msg: fmt.Sprintf(format, args...)}
}

// NoMethodOfThatNameError is returned when a Method node's owner value has
// no method of the bound name.
type NoMethodOfThatNameError struct {
	Method   string
	Receiver string
	Err      error
}

func (e *NoMethodOfThatNameError) Error() string {
	return fmt.Sprintf("no method %q on %s", e.Method, e.Receiver)
}

func (e *NoMethodOfThatNameError) Unwrap() error { return e.Err }

// InternalExecutionError wraps a failure raised inside a node's call,
// tagged with the id of the node that failed.
type InternalExecutionError struct {
	NodeID string
	Err    error
}

func (e *InternalExecutionError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *InternalExecutionError) Unwrap() error { return e.Err }
