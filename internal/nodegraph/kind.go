package nodegraph

import "slices"

// Kind is the closed set of node variants.
type Kind int

const (
	KindRoot Kind = iota
	KindObject
	KindObjectLiteral
	KindFunc
	KindMethod
	KindMethodAsFunction
	KindReturnFunc
)

var kindNames = map[Kind]string{
	KindRoot:             "Root",
	KindObject:           "Object",
	KindObjectLiteral:    "ObjectLiteral",
	KindFunc:             "Func",
	KindMethod:           "Method",
	KindMethodAsFunction: "MethodAsFunction",
	KindReturnFunc:       "ReturnFunc",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// ExecutionModel is the capability descriptor of a kind. Order is the edge
// order the kind executes over, or -1 when it is inactive. Objects and
// Subjects list the parent kinds treated as terminal values and as nested
// calls while building a subtree.
type ExecutionModel struct {
	Order     int
	CanAssign bool
	CanCall   bool
	Objects   []Kind
	Subjects  []Kind
}

// IsObject reports whether k is a terminal value kind under this model.
func (m ExecutionModel) IsObject(k Kind) bool {
	return slices.Contains(m.Objects, k)
}

// IsSubject reports whether k is a nested call kind under this model.
func (m ExecutionModel) IsSubject(k Kind) bool {
	return slices.Contains(m.Subjects, k)
}

var (
	valueKinds   = []Kind{KindObject, KindObjectLiteral}
	subjectKinds = []Kind{KindFunc, KindMethod, KindMethodAsFunction}
	methodModel  = ExecutionModel{Order: 0, CanCall: true, Objects: valueKinds, Subjects: subjectKinds}
)

var models = map[Kind]ExecutionModel{
	KindRoot:             {Order: -1},
	KindObject:           {Order: 0, CanAssign: true, Objects: valueKinds, Subjects: subjectKinds},
	KindObjectLiteral:    {Order: 0, Objects: []Kind{KindObjectLiteral}},
	KindFunc:             {Order: -1},
	KindMethod:           methodModel,
	KindMethodAsFunction: methodModel,
	KindReturnFunc:       {Order: 0, CanCall: true, Objects: []Kind{KindObject}, Subjects: subjectKinds},
}

// Model returns the execution model of k.
func (k Kind) Model() ExecutionModel {
	return models[k]
}

// Connectivity predicates. Each answers whether a node of kind k accepts
// other in the named role.

func (k Kind) acceptsSubnode(other Kind) bool {
	switch k {
	case KindRoot:
		return true
	case KindObject, KindObjectLiteral:
		return other == KindMethod
	}
	return false
}

func (k Kind) acceptsOwner(other Kind) bool {
	switch k {
	case KindRoot:
		return true
	case KindMethod:
		return other == KindObject || other == KindRoot
	}
	return other == KindRoot
}

var (
	childKinds  = []Kind{KindFunc, KindObject, KindMethod, KindReturnFunc, KindMethodAsFunction}
	parentKinds = []Kind{KindFunc, KindObject, KindObjectLiteral, KindMethod, KindMethodAsFunction}
)

func (k Kind) acceptsChild(other Kind) bool {
	switch k {
	case KindRoot, KindReturnFunc:
		return false
	}
	return slices.Contains(childKinds, other)
}

// acceptsParent excludes the Object single-parent rule, which depends on
// node state and is checked by the node.
func (k Kind) acceptsParent(other Kind) bool {
	switch k {
	case KindRoot, KindObjectLiteral:
		return false
	}
	return slices.Contains(parentKinds, other)
}
