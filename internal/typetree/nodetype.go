package typetree

import (
	"errors"
	"fmt"
)

// BaseType names the node kind family a descriptor constructs.
type BaseType string

const (
	BaseObject           BaseType = "object"
	BaseObjectIData      BaseType = "object_idata"
	BaseObjectIFunc      BaseType = "object_ifunc"
	BaseObjectLiteral    BaseType = "object_literal"
	BaseFunction         BaseType = "function"
	BaseFunctionNamed    BaseType = "function_named"
	BaseMethod           BaseType = "method"
	BaseMethodAsFunction BaseType = "method_as_function"
	BaseReturnFunction   BaseType = "return_function"
)

var knownBaseTypes = map[BaseType]struct{}{
	BaseObject:           {},
	BaseObjectIData:      {},
	BaseObjectIFunc:      {},
	BaseObjectLiteral:    {},
	BaseFunction:         {},
	BaseFunctionNamed:    {},
	BaseMethod:           {},
	BaseMethodAsFunction: {},
	BaseReturnFunction:   {},
}

// IsFunction reports whether the base type wraps a registered function.
func (b BaseType) IsFunction() bool {
	return b == BaseFunction || b == BaseFunctionNamed
}

// NodeType describes one entry of the catalog. Field names follow the
// catalog JSON shape consumed by editors.
type NodeType struct {
	BaseType    BaseType       `json:"basetype"`
	Type        string         `json:"type"`
	Address     string         `json:"address"`
	InputParams []string       `json:"ipars"`
	InputTypes  []string       `json:"itypes"`
	OutputTypes []string       `json:"otypes"`
	Static      bool           `json:"static"`
	Executable  bool           `json:"executable"`
	Editable    bool           `json:"edit"`
	Name        string         `json:"name"`
	Label       string         `json:"label"`
	Data        map[string]any `json:"data"`
}

// Validate checks the descriptor for the fields every node type needs.
func (t *NodeType) Validate() error {
	if t.Type == "" {
		return errors.New("node type: type not set")
	}
	if t.BaseType == "" {
		return fmt.Errorf("node type %q: basetype not set", t.Type)
	}
	if _, ok := knownBaseTypes[t.BaseType]; !ok {
		return fmt.Errorf("node type %q: unknown basetype %q", t.Type, t.BaseType)
	}
	return nil
}
