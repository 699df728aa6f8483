/*
Package nodegraph implements the general directed-graph model that flowlab
executes: polymorphic node kinds, their capability descriptors, and the
connectivity rules between them.

# Relations

Nodes take part in two independent relations:

  - **Dataflow edges** (parent/child), keyed by (index, order). A node never
    holds two parent edges with the same (index, order).
  - **Containment** (owner/subnode). The flat graph's root owns every node,
    and an Object node may own Method nodes that operate on its value.

Every mutation is validated against the connectivity predicates of both
participating kinds before either side changes, so a rejected operation
leaves the graph untouched.

# Storage

Nodes live in an arena keyed by id; edges and containment hold ids, never
pointers. A Graph is not safe for concurrent use. Sessions guarantee that a
single worker touches a graph at a time.
*/
package nodegraph
