// Package session wraps one flat graph with its middleware handle and the
// bookkeeping the worker pool needs to evict, persist and restore it.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/flatgraph"
	"github.com/specialistvlad/flowlab/internal/middleware"
	"github.com/specialistvlad/flowlab/internal/store"
	"github.com/specialistvlad/flowlab/internal/typetree"
	"github.com/specialistvlad/flowlab/internal/workspace"
)

// Factory creates sessions that share one workspace engine and execution
// lock.
type Factory struct {
	Types      *typetree.Tree
	Library    flatgraph.Library
	Engine     *workspace.Engine
	Lock       *sync.Mutex
	SidecarDir string
}

// Session is the live, in-memory form of a persisted graph session. It is
// used by one worker at a time and has no lock of its own.
type Session struct {
	ID       string
	Username string
	Graph    *flatgraph.FlatGraph

	mw         middleware.Middleware
	sidecarDir string
	touchedAt  atomic.Int64
}

func (f *Factory) newSession(id, username string) *Session {
	mw := middleware.NewVarname(f.Engine, f.Lock)
	s := &Session{
		ID:         id,
		Username:   username,
		Graph:      flatgraph.New(f.Types, f.Library, mw),
		mw:         mw,
		sidecarDir: f.SidecarDir,
	}
	s.Touch(time.Now())
	return s
}

// New returns a session with an empty graph.
func (f *Factory) New(id, username string) *Session {
	return f.newSession(id, username)
}

// Reconstruct builds a session purely from the durable graph definition of
// rec. Injection errors are logged and the partially built graph is kept.
func (f *Factory) Reconstruct(ctx context.Context, rec store.SessionRecord) (*Session, error) {
	def, err := flatgraph.DecodeGraphDef([]byte(rec.GraphDef))
	if err != nil {
		return nil, fmt.Errorf("decoding graph definition of %s: %w", rec.ID, err)
	}
	s := f.newSession(rec.ID, rec.Username)
	if err := s.Graph.InjectGraphDef(ctx, def); err != nil {
		ctxlog.FromContext(ctx).Warn("Graph definition injected with errors.", "sessionID", rec.ID, "error", err)
	}
	return s, nil
}

// Restore rebuilds a session from a soft snapshot: the sidecar is loaded
// into the workspace and the graph blob is restored on top of it.
func (f *Factory) Restore(ctx context.Context, rec store.SessionRecord, snap store.Snapshot) (*Session, error) {
	if snap.IsZero() {
		return nil, errors.New("snapshot is empty")
	}
	s := f.newSession(rec.ID, rec.Username)
	if snap.Sidecar != "" {
		if err := s.mw.Load(snap.Sidecar); err != nil {
			return nil, fmt.Errorf("loading sidecar: %w", err)
		}
	}
	if err := s.Graph.RestoreSnapshot(ctx, snap.Blob); err != nil {
		s.Shutdown(ctx)
		return nil, err
	}
	return s, nil
}

// Touch marks the session as used at now.
func (s *Session) Touch(now time.Time) {
	s.touchedAt.Store(now.UnixNano())
}

// TouchedAt returns the time of the last Touch.
func (s *Session) TouchedAt() time.Time {
	return time.Unix(0, s.touchedAt.Load())
}

// IdleFor returns how long the session has gone untouched at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.TouchedAt())
}

// Middleware returns the session's middleware handle.
func (s *Session) Middleware() middleware.Middleware {
	return s.mw
}

// Update applies batch and then coords. Coordinates are applied even when
// the batch reports errors.
func (s *Session) Update(ctx context.Context, batch flatgraph.Batch, coords map[string]flatgraph.Coord) error {
	err := s.Graph.GraphUpdate(ctx, batch)
	s.Graph.GraphCoords(coords)
	return err
}

// UpdateAndExecute applies batch and, only if it reported no error, executes
// nodeID. Structural changes are always committed before the execution sees
// the graph.
func (s *Session) UpdateAndExecute(ctx context.Context, nodeID string, batch flatgraph.Batch) (flatgraph.ChangeSet, error) {
	if err := s.Graph.GraphUpdate(ctx, batch); err != nil {
		return nil, &UpdateError{Err: err}
	}
	return s.Graph.ExecuteNode(ctx, nodeID)
}

// UpdateError reports that the update half of UpdateAndExecute failed and
// nothing was executed.
type UpdateError struct {
	Err error
}

func (e *UpdateError) Error() string { return "graph update: " + e.Err.Error() }

func (e *UpdateError) Unwrap() error { return e.Err }

// GraphDef returns the encoded structural definition of the graph.
func (s *Session) GraphDef() (string, error) {
	def, err := s.Graph.ExtractGraphDef()
	if err != nil {
		return "", err
	}
	b, err := flatgraph.EncodeGraphDef(def)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Snapshot writes the workspace sidecar and serialises the graph. The
// sidecar gets a fresh name so an older snapshot stays intact until the
// caller replaces it.
func (s *Session) Snapshot(ctx context.Context) (store.Snapshot, error) {
	if err := os.MkdirAll(s.sidecarDir, 0o750); err != nil {
		return store.Snapshot{}, fmt.Errorf("sidecar directory: %w", err)
	}
	sidecar := filepath.Join(s.sidecarDir, uuid.NewString()+".mpk")
	if err := s.mw.Save(sidecar); err != nil {
		return store.Snapshot{}, fmt.Errorf("saving sidecar: %w", err)
	}
	blob, err := s.Graph.Snapshot()
	if err != nil {
		RemoveSidecar(ctx, store.Snapshot{Sidecar: sidecar})
		return store.Snapshot{}, err
	}
	def, err := s.GraphDef()
	if err != nil {
		RemoveSidecar(ctx, store.Snapshot{Sidecar: sidecar})
		return store.Snapshot{}, err
	}
	return store.Snapshot{
		GraphDef: def,
		Blob:     blob,
		Sidecar:  sidecar,
		SavedAt:  time.Now().UTC(),
	}, nil
}

// ExtractLog returns the session's part of the workspace command log,
// prefixed by the middleware header.
func (s *Session) ExtractLog() string {
	lines := s.mw.ExtractLogLines()
	return s.mw.LogHeader() + strings.Join(lines, "\n")
}

// Shutdown releases every workspace value the session holds.
func (s *Session) Shutdown(ctx context.Context) {
	s.Graph.Shutdown(ctx)
}

// RemoveSidecar deletes the sidecar file of snap, if any.
func RemoveSidecar(ctx context.Context, snap store.Snapshot) {
	if snap.Sidecar == "" {
		return
	}
	if err := os.Remove(snap.Sidecar); err != nil && !errors.Is(err, os.ErrNotExist) {
		ctxlog.FromContext(ctx).Warn("Could not remove sidecar.", "path", snap.Sidecar, "error", err)
	}
}
