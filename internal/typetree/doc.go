/*
Package typetree provides the read-only type-address resolution tree that maps
dotted addresses such as `handles.obj` or `classes.Dataset.mask` to node-type
descriptors.

The tree is a put/retrieve structure where every entry has a leaf (the
descriptor) and a branch (its children). Addresses are split on dots; each
segment is the `type` key of a descriptor within its parent branch.

Trees are populated once at startup from HCL catalog files and are safe for
concurrent reads afterwards.
*/
package typetree
