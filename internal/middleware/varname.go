package middleware

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/specialistvlad/flowlab/internal/workspace"
)

// Varname is the Middleware implementation for workspace.Engine. It follows
// values by their workspace variable names.
type Varname struct {
	engine *workspace.Engine
	lock   *sync.Mutex

	names   map[string]struct{}
	tmp     map[string]struct{}
	symbols map[string]struct{}
	loaded  map[string]struct{}
	now     func() time.Time
}

var _ Middleware = (*Varname)(nil)

// NewVarname creates a middleware for one session. lock is the process-wide
// execution lock shared by every session of the engine.
func NewVarname(engine *workspace.Engine, lock *sync.Mutex) *Varname {
	return &Varname{
		engine:  engine,
		lock:    lock,
		names:   make(map[string]struct{}),
		tmp:     make(map[string]struct{}),
		symbols: make(map[string]struct{}),
		loaded:  make(map[string]struct{}),
		now:     time.Now,
	}
}

// Register marks v as held by the session. Values that are not workspace
// variables are ignored. A variable without a name is bound to a fresh one.
func (m *Varname) Register(v any) {
	variable, ok := workspace.AsVariable(v)
	if !ok {
		return
	}
	name := variable.Varname()
	if name == "" {
		name = m.engine.NewVarname()
		variable.SetVarname(name)
	}
	if _, ok := m.engine.Get(name); !ok {
		m.engine.Put(name, v, fmt.Sprintf("%T", v))
	}
	m.names[name] = struct{}{}
	delete(m.tmp, name)
	delete(m.loaded, name)
}

// Deregister releases v. The clear is logged, since it is a permanent
// departure of the value.
func (m *Varname) Deregister(v any) {
	variable, ok := workspace.AsVariable(v)
	if !ok {
		return
	}
	name := variable.Varname()
	if _, held := m.names[name]; !held {
		return
	}
	delete(m.names, name)
	m.tmp[name] = struct{}{}
	m.engine.Clear(name)
}

// Track binds a value created inside a proxied call to a fresh workspace
// variable and remembers it for cleanup.
func (m *Varname) Track(v any, origin string) {
	variable, ok := workspace.AsVariable(v)
	if !ok {
		return
	}
	if variable.Varname() != "" {
		if _, exists := m.engine.Get(variable.Varname()); exists {
			return
		}
	}
	name := m.engine.NewVarname()
	variable.SetVarname(name)
	m.engine.Put(name, v, origin)
	m.symbols[name] = struct{}{}
}

// Bind returns the value stored under varname and registers it.
func (m *Varname) Bind(varname string) (any, error) {
	v, ok := m.engine.Get(varname)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workspace.ErrUnknownVariable, varname)
	}
	m.Register(v)
	return v, nil
}

// Names returns the registered variable names, sorted.
func (m *Varname) Names() []string {
	return sortedSet(m.names)
}

// Save drops names the engine no longer knows, then writes the rest.
func (m *Varname) Save(path string) error {
	saved, err := m.engine.Save(path, m.Names())
	if err != nil {
		return err
	}
	m.names = make(map[string]struct{}, len(saved))
	for _, name := range saved {
		m.names[name] = struct{}{}
	}
	return nil
}

// Load reads a sidecar into the engine. Loaded values become registered
// only once a node binds them. Finalize drops the ones never bound.
func (m *Varname) Load(path string) error {
	names, err := m.engine.Load(path)
	for _, name := range names {
		m.loaded[name] = struct{}{}
	}
	return err
}

// Clear releases every registered value without logging, so the names can
// be reused after a later load.
func (m *Varname) Clear() {
	m.engine.Drop(m.Names()...)
	m.names = make(map[string]struct{})
}

// Finalize clears all registered values and any loaded value that no node
// bound.
func (m *Varname) Finalize() {
	m.Clear()
	m.engine.Drop(sortedSet(m.loaded)...)
	m.loaded = make(map[string]struct{})
}

// ExecuteThroughProxy runs fn holding the execution lock. After fn returns,
// its result is registered and every variable tracked during the call that
// was not registered is cleared and remembered for log extraction.
func (m *Varname) ExecuteThroughProxy(fn func() (any, error)) (any, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	ans, err := fn()
	if err == nil {
		m.Register(ans)
	}

	for name := range m.symbols {
		if _, held := m.names[name]; held {
			continue
		}
		m.tmp[name] = struct{}{}
		m.engine.Clear(name)
	}
	m.symbols = make(map[string]struct{})
	return ans, err
}

// ExtractLogLines removes and returns every logged statement that touched a
// current or former value of this session.
func (m *Varname) ExtractLogLines() []string {
	all := make(map[string]struct{}, len(m.names)+len(m.tmp))
	for name := range m.names {
		all[name] = struct{}{}
	}
	for name := range m.tmp {
		all[name] = struct{}{}
	}
	return m.engine.ExtractLogLines(sortedSet(all))
}

// LogHeader returns a comment block listing the registered names.
func (m *Varname) LogHeader() string {
	var b strings.Builder
	b.WriteString("#\n")
	fmt.Fprintf(&b, "#  log generated on %s\n", m.now().Format("20060102_150405"))
	b.WriteString("#\n#  varnames:\n")
	for _, name := range m.Names() {
		fmt.Fprintf(&b, "#    %s\n", name)
	}
	b.WriteString("#\n")
	return b.String()
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
