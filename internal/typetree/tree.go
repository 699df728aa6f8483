package typetree

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrUnknownAddress is returned when an address resolves to no descriptor.
var ErrUnknownAddress = errors.New("unknown type address")

type entry struct {
	leaf   *NodeType
	branch map[string]*entry
}

func newEntry() *entry {
	return &entry{branch: make(map[string]*entry)}
}

// Tree is the dotted-address resolution tree.
type Tree struct {
	root      map[string]*entry
	addresses []string
}

// New creates an empty Tree.
func New() *Tree {
	return &Tree{root: make(map[string]*entry)}
}

// Put stores nt under branch, keyed by nt.Type. Missing intermediate branches
// are created. An empty branch puts the descriptor at the top level. The
// descriptor's Address is set to its full dotted address.
func (t *Tree) Put(branch string, nt *NodeType) error {
	if err := nt.Validate(); err != nil {
		return err
	}
	var parent Address
	if branch != "" {
		var err error
		parent, err = ParseAddress(branch)
		if err != nil {
			return fmt.Errorf("put %q: %w", nt.Type, err)
		}
	}
	full := parent.Child(nt.Type)
	if _, err := ParseAddress(full.String()); err != nil {
		return fmt.Errorf("put %q: %w", nt.Type, err)
	}

	level := t.root
	for _, segment := range parent.Path {
		level = getOrCreate(level, segment).branch
	}
	e := getOrCreate(level, nt.Type)
	if e.leaf == nil {
		t.addresses = append(t.addresses, full.String())
	}
	nt.Address = full.String()
	e.leaf = nt
	return nil
}

// Retrieve returns the descriptor stored at address.
func (t *Tree) Retrieve(address string) (*NodeType, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	level := t.root
	var e *entry
	for _, segment := range addr.Path {
		next, ok := level[segment]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
		}
		e = next
		level = next.branch
	}
	if e == nil || e.leaf == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	return e.leaf, nil
}

// Addresses returns every stored address in insertion order.
func (t *Tree) Addresses() []string {
	return append([]string(nil), t.addresses...)
}

// Len returns the number of stored descriptors.
func (t *Tree) Len() int {
	return len(t.addresses)
}

// MarshalJSON renders the tree in the nested {leaf, branch} shape.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(renderLevel(t.root))
}

func renderLevel(level map[string]*entry) map[string]any {
	out := make(map[string]any, len(level))
	for key, e := range level {
		out[key] = map[string]any{
			"leaf":   e.leaf,
			"branch": renderLevel(e.branch),
		}
	}
	return out
}

func getOrCreate(level map[string]*entry, key string) *entry {
	e, ok := level[key]
	if !ok {
		e = newEntry()
		level[key] = e
	}
	return e
}
