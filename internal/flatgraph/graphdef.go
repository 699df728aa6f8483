package flatgraph

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// NodeTuple is the cached node_add command of a node. It is encoded as the
// JSON array [x, y, id, name, label, typeAddress].
type NodeTuple struct {
	X           float64
	Y           float64
	ID          string
	Name        string
	Label       string
	TypeAddress string
}

// MarshalJSON encodes the tuple as an array.
func (t NodeTuple) MarshalJSON() ([]byte, error) {
	return sonic.Marshal([]any{t.X, t.Y, t.ID, t.Name, t.Label, t.TypeAddress})
}

// UnmarshalJSON decodes the array form.
func (t *NodeTuple) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := sonic.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 6 {
		return fmt.Errorf("node tuple: expected 6 elements, got %d", len(raw))
	}
	r := argReader{args: raw}
	*t = NodeTuple{
		X:           r.float(0),
		Y:           r.float(1),
		ID:          r.str(2),
		Name:        r.str(3),
		Label:       r.str(4),
		TypeAddress: r.str(5),
	}
	return r.err
}

// OwnershipIndex is the link index that marks a link as an ownership
// relation between an Object and a Method node.
const OwnershipIndex = -1

// LinkTuple is the cached link_add command of an edge. It is encoded as the
// JSON array [id1, idx1, id2, idx2, order].
type LinkTuple struct {
	ID1   string
	Idx1  int
	ID2   string
	Idx2  int
	Order int
}

// IsOwnership reports whether the tuple encodes ownership instead of a
// dataflow edge.
func (t LinkTuple) IsOwnership() bool {
	return t.Idx1 == OwnershipIndex && t.Idx2 == OwnershipIndex
}

func (t LinkTuple) String() string {
	return fmt.Sprintf("(%s, %d) -> (%s, %d) @%d", t.ID1, t.Idx1, t.ID2, t.Idx2, t.Order)
}

// MarshalJSON encodes the tuple as an array.
func (t LinkTuple) MarshalJSON() ([]byte, error) {
	return sonic.Marshal([]any{t.ID1, t.Idx1, t.ID2, t.Idx2, t.Order})
}

// UnmarshalJSON decodes the array form. The order element is optional.
func (t *LinkTuple) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := sonic.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 4 && len(raw) != 5 {
		return fmt.Errorf("link tuple: expected 5 elements, got %d", len(raw))
	}
	r := argReader{args: raw}
	*t = LinkTuple{
		ID1:   r.str(0),
		Idx1:  r.int(1),
		ID2:   r.str(2),
		Idx2:  r.int(3),
		Order: r.optInt(4, 0),
	}
	return r.err
}

// GraphDef is the durable structural definition of a flat graph. Datas holds
// the JSON-encoded configuration of literal and function nodes.
type GraphDef struct {
	Nodes map[string]NodeTuple   `json:"nodes"`
	Links map[string][]LinkTuple `json:"links"`
	Datas map[string]string      `json:"datas"`
}

// NewGraphDef returns an empty definition.
func NewGraphDef() GraphDef {
	return GraphDef{
		Nodes: make(map[string]NodeTuple),
		Links: make(map[string][]LinkTuple),
		Datas: make(map[string]string),
	}
}

// EncodeGraphDef renders def in the wire format.
func EncodeGraphDef(def GraphDef) ([]byte, error) {
	b, err := sonic.ConfigStd.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encoding graph definition: %w", err)
	}
	return b, nil
}

// DecodeGraphDef parses the wire format. Missing sections decode as empty.
func DecodeGraphDef(b []byte) (GraphDef, error) {
	def := NewGraphDef()
	if len(b) == 0 {
		return def, nil
	}
	if err := sonic.ConfigStd.Unmarshal(b, &def); err != nil {
		return GraphDef{}, fmt.Errorf("decoding graph definition: %w", err)
	}
	if def.Nodes == nil {
		def.Nodes = make(map[string]NodeTuple)
	}
	if def.Links == nil {
		def.Links = make(map[string][]LinkTuple)
	}
	if def.Datas == nil {
		def.Datas = make(map[string]string)
	}
	return def, nil
}
