// Package flatgraph is the command layer between editor sessions and the
// node graph.
//
// A FlatGraph is a root node with one layer of children. Editors mutate it
// with a fixed vocabulary of commands (node_add, link_add, node_data, ...),
// batched into a Batch and applied by GraphUpdate. Every structural command
// is mirrored into replay caches, so the graph can be serialised back into
// the GraphDef wire format with ExtractGraphDef and rebuilt by
// InjectGraphDef.
//
// ExecuteNode runs one node through the engine package, funnelled through
// the session's middleware, and returns a ChangeSet naming the node
// representations the editor has to refresh. Failures are reported as a
// tagged *ExecError rather than propagated raw.
package flatgraph
