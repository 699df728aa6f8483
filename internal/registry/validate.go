package registry

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/typetree"
)

// selfParam is the catalog name of a method-as-function receiver input.
const selfParam = "self"

// ValidateCatalog performs a strict parity check between the catalog and the
// registered Go code. Every function-like catalog entry must name registered
// code, its declared inputs must be exactly the required parameters, and its
// data defaults must name parameters and coerce to their Go types.
func (r *Registry) ValidateCatalog(ctx context.Context, tree *typetree.Tree) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, addr := range tree.Addresses() {
		nt, err := tree.Retrieve(addr)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}

		switch nt.BaseType {
		case typetree.BaseFunction, typetree.BaseFunctionNamed:
			spec, ok := r.Functions[nt.Type]
			if !ok {
				errs = append(errs, fmt.Sprintf("node type '%s': function '%s' is not registered", addr, nt.Type))
				continue
			}
			errs = append(errs, checkEntry(addr, nt, spec, 0)...)

		case typetree.BaseMethod, typetree.BaseMethodAsFunction:
			owner, err := typetree.ParseAddress(addr)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			typeName := owner.Parent().Last()
			t, ok := r.Types[typeName]
			if !ok {
				errs = append(errs, fmt.Sprintf("node type '%s': owner type '%s' is not registered", addr, typeName))
				continue
			}
			spec, ok := t.Methods[nt.Type]
			if !ok {
				errs = append(errs, fmt.Sprintf("node type '%s': type '%s' has no method '%s'", addr, typeName, nt.Type))
				continue
			}
			ipars := nt.InputParams
			if nt.BaseType == typetree.BaseMethodAsFunction {
				if len(ipars) == 0 || ipars[0] != selfParam {
					errs = append(errs, fmt.Sprintf("node type '%s': first input must be '%s'", addr, selfParam))
					continue
				}
				ipars = ipars[1:]
			}
			shadow := *nt
			shadow.InputParams = ipars
			errs = append(errs, checkEntry(addr, &shadow, spec, 1)...)

		case typetree.BaseReturnFunction:
			if _, ok := r.Functions[nt.Type]; !ok {
				logger.Debug("Return function has no registered code, using presence check.", "address", addr)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	logger.Debug("Catalog validated against registry.", "node_types", tree.Len())
	return nil
}

func checkEntry(addr string, nt *typetree.NodeType, spec *RegisteredFunction, offset int) []string {
	var errs []string
	fn := reflect.TypeOf(spec.Fn)

	var required []string
	for _, p := range spec.Params {
		if !p.HasDefault {
			required = append(required, p.Name)
		}
	}
	if !slices.Equal(required, nt.InputParams) && !(len(required) == 0 && len(nt.InputParams) == 0) {
		errs = append(errs, fmt.Sprintf("node type '%s': catalog inputs %v do not match required params %v", addr, nt.InputParams, required))
	}

	for key, value := range nt.Data {
		idx := slices.IndexFunc(spec.Params, func(p Param) bool { return p.Name == key })
		if idx < 0 {
			errs = append(errs, fmt.Sprintf("node type '%s': data key '%s' is not a parameter", addr, key))
			continue
		}
		if _, err := Coerce(value, fn.In(idx+offset)); err != nil {
			errs = append(errs, fmt.Sprintf("node type '%s': data key '%s': %v", addr, key, err))
		}
	}
	return errs
}
