package workspace

import (
	"fmt"
	"reflect"
	"strings"
)

// Eval runs a raw administrative command against the workspace:
//
//	who          list variables
//	clear        clear every variable
//	clear NAME   clear one variable
//	disp NAME    print a variable
//	size NAME    print a variable's dimensions
//
// A trailing semicolon is accepted. Commands are not written to the log.
func (e *Engine) Eval(cmd string) (string, error) {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(cmd), ";"))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}

	switch fields[0] {
	case "who":
		return strings.Join(e.Who(), " "), nil
	case "clear":
		if len(fields) == 1 {
			e.Drop(e.Who()...)
			return "", nil
		}
		e.Drop(fields[1:]...)
		return "", nil
	case "disp", "size":
		if len(fields) != 2 {
			return "", fmt.Errorf("%s: expected one variable name", fields[0])
		}
		v, ok := e.Get(fields[1])
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownVariable, fields[1])
		}
		if fields[0] == "disp" {
			return fmt.Sprintf("%v", v), nil
		}
		return size(v), nil
	default:
		return "", fmt.Errorf("unknown command %q", fields[0])
	}
}

// size reports 1xN for values with a length and 1x1 for scalars.
func size(v any) string {
	if l, ok := v.(interface{ Len() int }); ok {
		return fmt.Sprintf("1 %d", l.Len())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return fmt.Sprintf("1 %d", rv.Len())
	}
	return "1 1"
}
