package middleware

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/flowlab/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type value struct {
	workspace.Handle
	N int
}

type codec struct{}

func (codec) EncodeValue(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (codec) DecodeValue(b []byte) (any, error) {
	out := &value{}
	return out, msgpack.Unmarshal(b, out)
}

func newTestVarname() (*Varname, *workspace.Engine) {
	engine := workspace.NewEngine(codec{})
	return NewVarname(engine, &sync.Mutex{}), engine
}

func TestVarname_RegisterDeregister(t *testing.T) {
	m, engine := newTestVarname()
	v := &value{N: 1}

	m.Register(v)
	require.NotEmpty(t, v.Varname())
	assert.Equal(t, []string{v.Varname()}, m.Names())
	_, ok := engine.Get(v.Varname())
	assert.True(t, ok)

	m.Register(3.14)
	m.Register(nil)
	m.Register((*value)(nil))
	assert.Len(t, m.Names(), 1, "non-variables are ignored")

	m.Deregister(v)
	assert.Empty(t, m.Names())
	assert.Equal(t, 0, engine.Len())

	lines := m.ExtractLogLines()
	assert.Contains(t, lines, "clear "+v.Varname()+";", "deregistered names stay extractable")
}

func TestVarname_ExecuteThroughProxy(t *testing.T) {
	m, engine := newTestVarname()

	var intermediate, result *value
	ans, err := m.ExecuteThroughProxy(func() (any, error) {
		intermediate = &value{N: 1}
		m.Track(intermediate, "make(1)")
		result = &value{N: 2}
		m.Track(result, "double("+intermediate.Varname()+")")
		return result, nil
	})
	require.NoError(t, err)
	assert.Same(t, result, ans)

	assert.Equal(t, []string{result.Varname()}, m.Names())
	assert.Equal(t, []string{result.Varname()}, engine.Who(), "unregistered temporaries are cleared")

	lines := m.ExtractLogLines()
	assert.Equal(t, []string{
		intermediate.Varname() + " = make(1);",
		result.Varname() + " = double(" + intermediate.Varname() + ");",
		"clear " + intermediate.Varname() + ";",
	}, lines)
}

func TestVarname_ExecuteThroughProxyError(t *testing.T) {
	m, engine := newTestVarname()
	boom := errors.New("boom")

	_, err := m.ExecuteThroughProxy(func() (any, error) {
		m.Track(&value{N: 1}, "make(1)")
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, m.Names())
	assert.Equal(t, 0, engine.Len())
}

func TestVarname_ExecuteThroughProxySerializes(t *testing.T) {
	lock := &sync.Mutex{}
	engine := workspace.NewEngine(codec{})
	a := NewVarname(engine, lock)
	b := NewVarname(engine, lock)

	var mu sync.Mutex
	active, maxActive := 0, 0
	run := func(m *Varname) {
		_, _ = m.ExecuteThroughProxy(func() (any, error) {
			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return nil, nil
		})
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(m *Varname) {
			defer wg.Done()
			run(m)
		}([]*Varname{a, b}[i%2])
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestVarname_SaveLoadBind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.mpk")
	m, engine := newTestVarname()
	v := &value{N: 7}
	m.Register(v)
	name := v.Varname()

	require.NoError(t, m.Save(path))

	m.Finalize()
	assert.Equal(t, 0, engine.Len())
	assert.Empty(t, m.Names())

	restored, _ := newTestVarname()
	require.NoError(t, restored.Load(path))
	assert.Empty(t, restored.Names(), "load alone does not register")

	got, err := restored.Bind(name)
	require.NoError(t, err)
	assert.Equal(t, 7, got.(*value).N)
	assert.Equal(t, []string{name}, restored.Names())

	_, err = restored.Bind("nope")
	assert.ErrorIs(t, err, workspace.ErrUnknownVariable)
}

func TestVarname_SaveFiltersClearedNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.mpk")
	m, engine := newTestVarname()
	a, b := &value{N: 1}, &value{N: 2}
	m.Register(a)
	m.Register(b)
	engine.Drop(a.Varname())

	require.NoError(t, m.Save(path))
	assert.Equal(t, []string{b.Varname()}, m.Names())
}

func TestVarname_LogHeader(t *testing.T) {
	m, _ := newTestVarname()
	m.now = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC) }
	v := &value{}
	m.Register(v)

	header := m.LogHeader()
	assert.Contains(t, header, "log generated on 20240305_140709")
	assert.Contains(t, header, "#    "+v.Varname()+"\n")
}

func TestVarname_FinalizeDropsUnboundLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.mpk")
	m, _ := newTestVarname()
	a, b := &value{N: 1}, &value{N: 2}
	m.Register(a)
	m.Register(b)
	require.NoError(t, m.Save(path))
	m.Finalize()

	restored, engine := newTestVarname()
	require.NoError(t, restored.Load(path))
	require.Equal(t, 2, engine.Len())
	_, err := restored.Bind(a.Varname())
	require.NoError(t, err)

	restored.Finalize()
	assert.Equal(t, 0, engine.Len())
}
