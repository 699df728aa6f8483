package engine

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/flowlab/internal/nodegraph"
)

var (
	// ErrNotExecutable is returned for nodes that can neither be assigned
	// nor called. It is terminal and never retried.
	ErrNotExecutable = errors.New("node is not executable")
	// ErrCycle is returned when subject parents form a loop.
	ErrCycle = errors.New("cycle in subtree")
	// ErrAmbiguous is returned when an assignment target has more than one
	// upstream item.
	ErrAmbiguous = errors.New("ambiguous subtree")
)

// BuildSubtree builds the call tree that computes rootID's value. The root's
// execution model governs the whole walk: its order selects the parent
// edges and its object/subject kinds classify every parent on the way.
func BuildSubtree(g *nodegraph.Graph, rootID string) (Tree, error) {
	root, err := g.Node(rootID)
	if err != nil {
		return Tree{}, err
	}
	model := root.Model()
	if !model.CanAssign && !model.CanCall {
		return Tree{}, fmt.Errorf("%w: %s %s", ErrNotExecutable, root.Kind(), rootID)
	}

	items, err := build(g, root, model, map[string]bool{rootID: true})
	if err != nil {
		return Tree{}, err
	}
	if model.CanAssign {
		return Tree{Target: rootID, Items: items}, nil
	}
	return Tree{Items: []Item{Call{Subject: rootID, Args: items}}}, nil
}

func build(g *nodegraph.Graph, n *nodegraph.Node, model nodegraph.ExecutionModel, path map[string]bool) ([]Item, error) {
	var items []Item
	for _, pid := range n.ParentsAt(model.Order) {
		p, err := g.Node(pid)
		if err != nil {
			return nil, err
		}
		switch {
		case model.IsSubject(p.Kind()):
			if path[pid] {
				return nil, fmt.Errorf("%w: %s", ErrCycle, pid)
			}
			path[pid] = true
			args, err := build(g, p, model, path)
			delete(path, pid)
			if err != nil {
				return nil, err
			}
			items = append(items, Call{Subject: pid, Args: args})
		case model.IsObject(p.Kind()):
			items = append(items, Ref{ID: pid})
		}
	}
	return items, nil
}

// EvaluateSubtree computes the value of t and assigns it to t.Target, if
// set. The result is always returned, including nil.
func EvaluateSubtree(g *nodegraph.Graph, t Tree) (any, error) {
	var result any
	switch len(t.Items) {
	case 0:
	case 1:
		v, err := resolve(g, t.Items[0])
		if err != nil {
			return nil, err
		}
		result = v
	default:
		return nil, fmt.Errorf("%w: %d items for %s", ErrAmbiguous, len(t.Items), t.Target)
	}

	if t.Target != "" {
		if err := g.Assign(t.Target, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func resolve(g *nodegraph.Graph, item Item) (any, error) {
	switch it := item.(type) {
	case Ref:
		return g.Object(it.ID)
	case Call:
		args := make([]any, len(it.Args))
		for i, a := range it.Args {
			v, err := resolve(g, a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return g.Call(it.Subject, args)
	}
	return nil, fmt.Errorf("unknown subtree item %T", item)
}

// Execute builds and evaluates the subtree of id. A node that is not
// executable is never mutated.
func Execute(g *nodegraph.Graph, id string) (any, error) {
	t, err := BuildSubtree(g, id)
	if err != nil {
		return nil, err
	}
	return EvaluateSubtree(g, t)
}
