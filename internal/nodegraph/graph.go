package nodegraph

import (
	"fmt"
	"slices"
	"sort"
)

// Graph is an id-keyed arena of nodes.
type Graph struct {
	nodes    map[string]*Node
	resolver MethodResolver
}

// New creates an empty graph. resolver is used by Method and
// MethodAsFunction nodes; it may be nil for graphs without them.
func New(resolver MethodResolver) *Graph {
	return &Graph{nodes: make(map[string]*Node), resolver: resolver}
}

// Add inserts n. It fails on an id collision.
func (g *Graph) Add(n *Node) error {
	if _, exists := g.nodes[n.id]; exists {
		return fmt.Errorf("%w: %s", ErrNodeExists, n.id)
	}
	g.nodes[n.id] = n
	return nil
}

// Node returns the node with id.
func (g *Graph) Node(id string) (*Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return n, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// IDs returns every node id, sorted.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove drops a node that has no remaining edges or containment relations.
// Removing an absent id is a no-op.
func (g *Graph) Remove(id string) error {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	if n.HasEdges() || len(n.owners) > 0 || len(n.subnodes) > 0 {
		return inconsistent(n, "can not remove node with existing links")
	}
	delete(g.nodes, id)
	return nil
}

func (g *Graph) pair(id1, id2 string) (*Node, *Node, error) {
	n1, err := g.Node(id1)
	if err != nil {
		return nil, nil, err
	}
	n2, err := g.Node(id2)
	if err != nil {
		return nil, nil, err
	}
	return n1, n2, nil
}

// Connect adds a dataflow edge from id1 (output idx1) to id2 (input idx2) at
// order. Both sides are validated before either is mutated.
func (g *Graph) Connect(id1 string, idx1 int, id2 string, idx2 int, order int) error {
	n1, n2, err := g.pair(id1, id2)
	if err != nil {
		return err
	}
	if n1.hasChildAt(id2, order) {
		return inconsistent(n1, "child %s already exists at order %d", id2, order)
	}
	if !n1.checkChild(n2) {
		return inconsistent(n1, "illegal add_child")
	}
	if n2.hasParentAt(id1, order) {
		return inconsistent(n2, "parent %s already exists at order %d", id1, order)
	}
	if !n2.checkParent(n1) {
		return inconsistent(n2, "illegal add_parent")
	}
	if n2.parentSlotTaken(idx2, order) {
		return inconsistent(n2, "some parent of idx %d at order %d already exists", idx2, order)
	}

	n1.children = append(n1.children, Edge{Other: id2, Index: idx1, Order: order})
	n2.parents = append(n2.parents, Edge{Other: id1, Index: idx2, Order: order})
	return nil
}

// Disconnect removes the edge added by the matching Connect call.
func (g *Graph) Disconnect(id1 string, idx1 int, id2 string, idx2 int, order int) error {
	n1, n2, err := g.pair(id1, id2)
	if err != nil {
		return err
	}
	child := Edge{Other: id2, Index: idx1, Order: order}
	parent := Edge{Other: id1, Index: idx2, Order: order}
	ci := slices.Index(n1.children, child)
	if ci < 0 {
		return inconsistent(n1, "child %s idx(%d) order(%d) not found", id2, idx1, order)
	}
	pi := slices.Index(n2.parents, parent)
	if pi < 0 {
		return inconsistent(n2, "parent %s idx(%d) order(%d) not found", id1, idx2, order)
	}
	n1.children = slices.Delete(n1.children, ci, ci+1)
	n2.parents = slices.Delete(n2.parents, pi, pi+1)
	return nil
}

// Own makes ownerID the owner of subID.
func (g *Graph) Own(ownerID, subID string) error {
	owner, sub, err := g.pair(ownerID, subID)
	if err != nil {
		return err
	}
	if !owner.checkSubnode(sub) {
		return inconsistent(owner, "illegal own of %s %s", sub.kind, subID)
	}
	if !sub.checkOwner(owner) {
		return inconsistent(sub, "illegal subnode_to %s %s", owner.kind, ownerID)
	}
	if slices.Contains(owner.subnodes, subID) {
		return inconsistent(owner, "subnode %s already owned", subID)
	}
	owner.subnodes = append(owner.subnodes, subID)
	sub.owners = append(sub.owners, ownerID)
	return nil
}

// Disown reverses Own.
func (g *Graph) Disown(ownerID, subID string) error {
	owner, sub, err := g.pair(ownerID, subID)
	if err != nil {
		return err
	}
	si := slices.Index(owner.subnodes, subID)
	if si < 0 {
		return inconsistent(owner, "no subnode %s", subID)
	}
	owner.subnodes = slices.Delete(owner.subnodes, si, si+1)
	if oi := slices.Index(sub.owners, ownerID); oi >= 0 {
		sub.owners = slices.Delete(sub.owners, oi, oi+1)
	}
	return nil
}

// AttachSubnode is Own addressed from the subnode side.
func (g *Graph) AttachSubnode(subID, ownerID string) error {
	return g.Own(ownerID, subID)
}

// DetachSubnode is Disown addressed from the subnode side.
func (g *Graph) DetachSubnode(subID, ownerID string) error {
	return g.Disown(ownerID, subID)
}
