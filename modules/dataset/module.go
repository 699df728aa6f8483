package dataset

import "github.com/specialistvlad/flowlab/internal/registry"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the dataset functions and the Dataset type.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFunction("linspace", Linspace,
		registry.Required("start"),
		registry.Required("stop"),
		registry.Optional("num", 50),
	)
	r.RegisterFunction("sine", Sine,
		registry.Required("ds"),
		registry.Optional("amplitude", 1.0),
		registry.Optional("frequency", 1.0),
	)
	r.RegisterFunction("add", Add, registry.Required("a"), registry.Required("b"))

	r.RegisterType("Dataset", &registry.RegisteredType{
		New: func() any { return new(Dataset) },
		Methods: map[string]*registry.RegisteredFunction{
			"scale":     {Fn: (*Dataset).Scale, Params: []registry.Param{registry.Optional("factor", 2.0)}},
			"shift":     {Fn: (*Dataset).Shift, Params: []registry.Param{registry.Optional("offset", 0.0)}},
			"mean":      {Fn: (*Dataset).Mean},
			"normalize": {Fn: (*Dataset).Normalize},
		},
	})
}
