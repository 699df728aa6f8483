package testutil

import (
	"strings"
	"sync"

	"github.com/specialistvlad/flowlab/internal/registry"
)

// RecorderCatalog is a self-contained catalog for RecorderModule: the value
// handles plus functions.testing.shout.
const RecorderCatalog = `
branch "handles" {
  node_type "obj" {
    basetype = "object"
  }

  node_type "Pars" {
    basetype = "object_literal"
    data     = { value = "" }
  }
}

branch "functions.testing" {
  node_type "shout" {
    basetype = "function"
    ipars    = ["text"]
    itypes   = ["string"]
    otypes   = ["string"]
    data     = { suffix = "!" }
  }
}
`

// RecorderModule registers "shout", which upper-cases its input and records
// every call.
type RecorderModule struct {
	mu    sync.Mutex
	calls []string
}

// Register implements registry.Module.
func (m *RecorderModule) Register(r *registry.Registry) {
	r.RegisterFunction("shout", m.shout, registry.Required("text"), registry.Optional("suffix", "!"))
}

func (m *RecorderModule) shout(text, suffix string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	return strings.ToUpper(text) + suffix, nil
}

// Calls returns the inputs shout was called with, in order.
func (m *RecorderModule) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
