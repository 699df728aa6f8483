// Package engine implements the two-phase execution algorithm over a
// nodegraph.Graph.
//
// BuildSubtree walks a target node's parents, expanding subject parents
// (functions and methods) into nested calls and keeping object parents as
// terminal values. EvaluateSubtree reduces the resulting tree depth-first
// and assigns the result to the target when the target can hold a value.
package engine
