package workspace

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/specialistvlad/flowlab/internal/fsutil"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownVariable is returned when a variable name is not in the workspace.
var ErrUnknownVariable = errors.New("unknown variable")

var identRegex = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Engine is the shared variable workspace.
type Engine struct {
	codec Codec

	mu   sync.Mutex
	vars map[string]any
	log  []string
}

// NewEngine creates an empty workspace that persists values through codec.
func NewEngine(codec Codec) *Engine {
	return &Engine{codec: codec, vars: make(map[string]any)}
}

// NewVarname returns a fresh, unused variable name.
func (e *Engine) NewVarname() string {
	for {
		name := "v_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		e.mu.Lock()
		_, taken := e.vars[name]
		e.mu.Unlock()
		if !taken {
			return name
		}
	}
}

// Put stores v under name. A non-empty origin is logged as the statement
// `name = origin;`.
func (e *Engine) Put(name string, v any, origin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[name] = v
	if origin != "" {
		e.log = append(e.log, fmt.Sprintf("%s = %s;", name, origin))
	}
}

// Get returns the value stored under name.
func (e *Engine) Get(name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vars[name]
	return v, ok
}

// Clear removes the named variables and logs a `clear name;` statement for
// each one that existed.
func (e *Engine) Clear(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range names {
		if _, ok := e.vars[name]; !ok {
			continue
		}
		delete(e.vars, name)
		e.log = append(e.log, fmt.Sprintf("clear %s;", name))
	}
}

// Drop removes the named variables without logging.
func (e *Engine) Drop(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range names {
		delete(e.vars, name)
	}
}

// Who returns every variable name, sorted.
func (e *Engine) Who() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.vars))
	for name := range e.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of variables.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vars)
}

// ExtractLogLines removes and returns, in order, every logged statement that
// mentions one of names.
func (e *Engine) ExtractLogLines(names []string) []string {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var extracted, kept []string
	for _, line := range e.log {
		if mentionsAny(line, want) {
			extracted = append(extracted, line)
		} else {
			kept = append(kept, line)
		}
	}
	e.log = kept
	return extracted
}

func mentionsAny(line string, names map[string]struct{}) bool {
	for _, tok := range identRegex.FindAllString(line, -1) {
		if _, ok := names[tok]; ok {
			return true
		}
	}
	return false
}

// Save writes the named variables that still exist to a sidecar file at
// path and returns the names that were written.
func (e *Engine) Save(path string, names []string) ([]string, error) {
	e.mu.Lock()
	blobs := make(map[string][]byte, len(names))
	var saved []string
	for _, name := range names {
		v, ok := e.vars[name]
		if !ok {
			continue
		}
		b, err := e.codec.EncodeValue(v)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("save %s: %w", name, err)
		}
		blobs[name] = b
		saved = append(saved, name)
	}
	e.mu.Unlock()

	data, err := msgpack.Marshal(blobs)
	if err != nil {
		return nil, fmt.Errorf("save sidecar: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("save sidecar: %w", err)
	}
	slices.Sort(saved)
	return saved, nil
}

// Load reads a sidecar file into the workspace, replacing variables of the
// same name, and returns the loaded names.
func (e *Engine) Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load sidecar: %w", err)
	}
	var blobs map[string][]byte
	if err := msgpack.Unmarshal(data, &blobs); err != nil {
		return nil, fmt.Errorf("load sidecar: %w", err)
	}

	values := make(map[string]any, len(blobs))
	for name, b := range blobs {
		v, err := e.codec.DecodeValue(b)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		if variable, ok := v.(Variable); ok {
			variable.SetVarname(name)
		}
		values[name] = v
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(values))
	for name, v := range values {
		e.vars[name] = v
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
