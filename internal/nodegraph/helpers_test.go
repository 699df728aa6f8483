package nodegraph

import (
	"errors"
	"fmt"
)

type callFunc func(args []any, named map[string]any) (any, error)

func (f callFunc) Call(args []any, named map[string]any) (any, error) { return f(args, named) }

type defaultedFunc struct {
	callFunc
	defaults map[string]any
}

func (d defaultedFunc) Defaults() map[string]any { return d.defaults }

// box is a value with methods resolved by boxResolver.
type box struct {
	N     int
	Calls int
}

type boxResolver struct{}

func (boxResolver) ResolveMethod(receiver any, name string) (Callable, error) {
	b, ok := receiver.(*box)
	if !ok {
		return nil, fmt.Errorf("unsupported receiver %T", receiver)
	}
	switch name {
	case "inc":
		return defaultedFunc{
			callFunc: func(args []any, named map[string]any) (any, error) {
				b.Calls++
				b.N += named["by"].(int)
				return b.N, nil
			},
			defaults: map[string]any{"by": 1},
		}, nil
	case "fail":
		return callFunc(func([]any, map[string]any) (any, error) { return nil, errors.New("method failed") }), nil
	}
	return nil, errors.New("no such method")
}
