package app

import (
	"github.com/specialistvlad/flowlab/internal/registry"
	"github.com/specialistvlad/flowlab/modules/dataset"
	"github.com/specialistvlad/flowlab/modules/fitmodel"
	"github.com/specialistvlad/flowlab/modules/palette"
)

// coreModules is the definitive list of all lab modules that are compiled
// into the flowlab binary.
var coreModules = []registry.Module{
	&dataset.Module{},
	&fitmodel.Module{},
	&palette.Module{},
}
