package flatgraph

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bytedance/sonic"
)

// CommandKind names an elementary graph mutation.
type CommandKind string

const (
	CmdNodeAdd   CommandKind = "node_add"
	CmdNodeRm    CommandKind = "node_rm"
	CmdLinkAdd   CommandKind = "link_add"
	CmdLinkRm    CommandKind = "link_rm"
	CmdOwnAdd    CommandKind = "own_add"
	CmdOwnRm     CommandKind = "own_rm"
	CmdNodeLabel CommandKind = "node_label"
	CmdNodeData  CommandKind = "node_data"
)

// ErrUnknownCommand is returned for a command kind outside the vocabulary.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one elementary mutation: the command kind followed by its
// arguments, as decoded from JSON.
type Command []any

// Kind returns the command kind, or "" when the first element is not a
// string.
func (c Command) Kind() CommandKind {
	if len(c) == 0 {
		return ""
	}
	s, _ := c[0].(string)
	return CommandKind(s)
}

// Args returns the arguments after the command kind.
func (c Command) Args() []any {
	if len(c) == 0 {
		return nil
	}
	return c[1:]
}

func (c Command) String() string {
	b, err := sonic.Marshal([]any(c))
	if err != nil {
		return fmt.Sprint([]any(c))
	}
	return string(b)
}

// Batch is a sequence of command groups, applied in order.
type Batch [][]Command

// Len returns the number of elementary commands.
func (b Batch) Len() int {
	n := 0
	for _, group := range b {
		n += len(group)
	}
	return n
}

type commandFunc func(ctx context.Context, g *FlatGraph, args []any) error

var commands = map[CommandKind]commandFunc{
	CmdNodeAdd: func(ctx context.Context, g *FlatGraph, args []any) error {
		r := argReader{args: args}
		x, y := r.float(0), r.float(1)
		id, name, label, addr := r.str(2), r.str(3), r.str(4), r.str(5)
		if err := r.done(6); err != nil {
			return err
		}
		return g.NodeAdd(ctx, x, y, id, name, label, addr)
	},
	CmdNodeRm: func(ctx context.Context, g *FlatGraph, args []any) error {
		r := argReader{args: args}
		id := r.str(0)
		if err := r.done(1); err != nil {
			return err
		}
		return g.NodeRemove(ctx, id)
	},
	CmdLinkAdd: func(ctx context.Context, g *FlatGraph, args []any) error {
		t, err := linkArgs(args)
		if err != nil {
			return err
		}
		return g.LinkAdd(ctx, t.ID1, t.Idx1, t.ID2, t.Idx2, t.Order)
	},
	CmdLinkRm: func(ctx context.Context, g *FlatGraph, args []any) error {
		t, err := linkArgs(args)
		if err != nil {
			return err
		}
		return g.LinkRemove(ctx, t.ID1, t.Idx1, t.ID2, t.Idx2, t.Order)
	},
	CmdOwnAdd: func(ctx context.Context, g *FlatGraph, args []any) error {
		r := argReader{args: args}
		owner, sub := r.str(0), r.str(1)
		if err := r.done(2); err != nil {
			return err
		}
		return g.LinkAdd(ctx, owner, OwnershipIndex, sub, OwnershipIndex, 0)
	},
	CmdOwnRm: func(ctx context.Context, g *FlatGraph, args []any) error {
		r := argReader{args: args}
		owner, sub := r.str(0), r.str(1)
		if err := r.done(2); err != nil {
			return err
		}
		return g.LinkRemove(ctx, owner, OwnershipIndex, sub, OwnershipIndex, 0)
	},
	CmdNodeLabel: func(ctx context.Context, g *FlatGraph, args []any) error {
		r := argReader{args: args}
		id, label := r.str(0), r.str(1)
		if err := r.done(2); err != nil {
			return err
		}
		return g.NodeLabel(ctx, id, label)
	},
	CmdNodeData: func(ctx context.Context, g *FlatGraph, args []any) error {
		r := argReader{args: args}
		id := r.str(0)
		if err := r.done(2); err != nil {
			return err
		}
		switch payload := args[1].(type) {
		case nil:
			return g.NodeData(ctx, id, nil)
		case string:
			return g.NodeData(ctx, id, &payload)
		default:
			// Editors sometimes send the decoded value instead of its JSON text.
			b, err := sonic.Marshal(payload)
			if err != nil {
				return fmt.Errorf("node_data payload: %w", err)
			}
			s := string(b)
			return g.NodeData(ctx, id, &s)
		}
	},
}

func linkArgs(args []any) (LinkTuple, error) {
	r := argReader{args: args}
	t := LinkTuple{
		ID1:   r.str(0),
		Idx1:  r.int(1),
		ID2:   r.str(2),
		Idx2:  r.int(3),
		Order: r.optInt(4, 0),
	}
	if len(args) > 5 {
		return t, fmt.Errorf("expected at most 5 arguments, got %d", len(args))
	}
	if err := r.done(4); err != nil {
		return t, err
	}
	return t, nil
}

// argReader converts loosely typed command arguments, keeping the first
// failure.
type argReader struct {
	args []any
	err  error
}

func (r *argReader) fail(i int, want string) {
	if r.err == nil {
		if i >= len(r.args) {
			r.err = fmt.Errorf("argument %d: missing", i)
			return
		}
		r.err = fmt.Errorf("argument %d: expected %s, got %T", i, want, r.args[i])
	}
}

func (r *argReader) str(i int) string {
	if i < len(r.args) {
		if s, ok := r.args[i].(string); ok {
			return s
		}
	}
	r.fail(i, "string")
	return ""
}

func (r *argReader) float(i int) float64 {
	if i < len(r.args) {
		switch v := r.args[i].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	r.fail(i, "number")
	return 0
}

func (r *argReader) int(i int) int {
	f := r.float(i)
	if f != math.Trunc(f) {
		r.fail(i, "integer")
		return 0
	}
	return int(f)
}

func (r *argReader) optInt(i, def int) int {
	if i >= len(r.args) {
		return def
	}
	return r.int(i)
}

// done reports the first conversion failure, or an arity mismatch when
// fewer than want arguments were given.
func (r *argReader) done(want int) error {
	if r.err != nil {
		return r.err
	}
	if len(r.args) < want {
		return fmt.Errorf("expected %d arguments, got %d", want, len(r.args))
	}
	return nil
}
