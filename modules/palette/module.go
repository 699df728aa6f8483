package palette

import "github.com/specialistvlad/flowlab/internal/registry"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the palette functions.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFunction("Colour", Colour, registry.Required("name"))
	r.RegisterFunction("blend", Blend,
		registry.Required("a"),
		registry.Required("b"),
		registry.Optional("ratio", 0.5),
	)
}
