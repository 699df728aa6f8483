package fitmodel

import "github.com/specialistvlad/flowlab/internal/registry"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers model constructors, fitting functions and the Model type.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFunction("linear_model", LinearModel,
		registry.Optional("slope", 1.0),
		registry.Optional("intercept", 0.0),
	)
	r.RegisterFunction("gaussian_model", GaussianModel,
		registry.Optional("amplitude", 1.0),
		registry.Optional("center", 0.0),
		registry.Optional("width", 1.0),
	)
	r.RegisterFunction("fit", Fit, registry.Required("model"), registry.Required("ds"))
	r.RegisterFunction("evaluate", Evaluate, registry.Required("model"), registry.Required("ds"))

	r.RegisterType("Model", &registry.RegisteredType{
		New: func() any { return new(Model) },
		Methods: map[string]*registry.RegisteredFunction{
			"reset": {Fn: (*Model).Reset},
		},
	})
}
