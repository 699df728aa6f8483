package registry

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// envelope tags an encoded value with its registered type name. An empty
// Type means the value was encoded as a plain msgpack value.
type envelope struct {
	Type string             `msgpack:"t"`
	Data msgpack.RawMessage `msgpack:"d"`
}

// EncodeValue serializes v for persistence. Values of registered types keep
// their type so DecodeValue can rebuild the concrete Go value.
func (r *Registry) EncodeValue(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	name, _ := r.TypeName(v)
	return msgpack.Marshal(&envelope{Type: name, Data: data})
}

// DecodeValue reverses EncodeValue.
func (r *Registry) DecodeValue(b []byte) (any, error) {
	var env envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		var out any
		if err := msgpack.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
		return out, nil
	}
	t, ok := r.Types[env.Type]
	if !ok {
		return nil, fmt.Errorf("decode value: unknown type %q", env.Type)
	}
	out := t.New()
	if err := msgpack.Unmarshal(env.Data, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return out, nil
}
