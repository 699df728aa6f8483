package engine

import (
	"fmt"
	"strings"
)

// Item is one element of a built subtree: a terminal Ref or a nested Call.
type Item interface {
	isItem()
	fmt.Stringer
}

// Ref is a terminal object node whose held value is used as an argument.
type Ref struct {
	ID string
}

// Call invokes Subject with its evaluated Args.
type Call struct {
	Subject string
	Args    []Item
}

func (Ref) isItem()  {}
func (Call) isItem() {}

func (r Ref) String() string { return r.ID }

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Subject, strings.Join(args, ", "))
}

// Tree is the result of BuildSubtree. Target is the node receiving the
// result, or "" for subject calls.
type Tree struct {
	Target string
	Items  []Item
}

func (t Tree) String() string {
	items := make([]string, len(t.Items))
	for i, it := range t.Items {
		items[i] = it.String()
	}
	body := strings.Join(items, ", ")
	if t.Target == "" {
		return body
	}
	return t.Target + " <- " + body
}
