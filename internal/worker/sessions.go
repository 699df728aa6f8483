package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/session"
	"github.com/specialistvlad/flowlab/internal/store"
)

// entry is a live session. mu is held while a task or an eviction uses it;
// evicted is set under mu once the session has been shut down.
type entry struct {
	mu      sync.Mutex
	s       *session.Session
	evicted bool

	// Counts sampled by the monitor loop, refreshed after every task.
	held       atomic.Int64
	registered atomic.Int64
}

func (e *entry) refreshCounts() {
	e.held.Store(int64(e.s.Graph.HeldValues()))
	e.registered.Store(int64(len(e.s.Middleware().Names())))
}

// Load steps of the fallback chain.
const (
	stepLive        = "live"
	stepAutosave    = "autosave"
	stepQuicksave   = "quicksave"
	stepReconstruct = "reconstruct"
)

func (p *Pool) live(id string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[id]
}

func (p *Pool) liveEntries() []*entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*entry, 0, len(p.sessions))
	for _, e := range p.sessions {
		out = append(out, e)
	}
	return out
}

// install adds s to the live map. If another entry won the race, s is shut
// down and the existing entry returned.
func (p *Pool) install(ctx context.Context, s *session.Session) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.sessions[s.ID]; ok {
		s.Shutdown(ctx)
		return existing
	}
	e := &entry{s: s}
	e.refreshCounts()
	p.sessions[s.ID] = e
	return e
}

// resolveSession returns the live session id, loading it through the
// fallback chain when it is not live.
func (p *Pool) resolveSession(ctx context.Context, id string) (*entry, error) {
	if e := p.live(id); e != nil {
		p.metrics.loads.WithLabelValues(stepLive).Inc()
		return e, nil
	}
	rec, err := p.store.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	s, err := p.loadRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	return p.install(ctx, s), nil
}

// loadRecord walks autosave, quicksave and reconstruction, trying each step
// at most once.
func (p *Pool) loadRecord(ctx context.Context, rec store.SessionRecord) (*session.Session, error) {
	logger := ctxlog.FromContext(ctx)
	for _, step := range []struct {
		name string
		snap store.Snapshot
	}{
		{stepAutosave, rec.Autosave},
		{stepQuicksave, rec.Quicksave},
	} {
		if step.snap.IsZero() {
			logger.Debug("No snapshot to load.", "step", step.name)
			continue
		}
		s, err := p.factory.Restore(ctx, rec, step.snap)
		if err != nil {
			logger.Warn("Loading snapshot failed, falling back.", "step", step.name, "error", err)
			continue
		}
		logger.Info("Session loaded.", "step", step.name)
		p.metrics.loads.WithLabelValues(step.name).Inc()
		return s, nil
	}

	s, err := p.factory.Reconstruct(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("reconstructing session %s: %w", rec.ID, err)
	}
	logger.Info("Session loaded.", "step", stepReconstruct)
	p.metrics.loads.WithLabelValues(stepReconstruct).Inc()
	return s, nil
}

// withSession runs fn on the live session id while holding its entry.
func (p *Pool) withSession(ctx context.Context, id string, fn func(e *entry) (*Reply, error)) (*Reply, error) {
	for {
		e, err := p.resolveSession(ctx, id)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if e.evicted {
			// Evicted between lookup and lock; load it again.
			e.mu.Unlock()
			continue
		}
		e.s.Touch(p.now())
		reply, err := fn(e)
		if !e.evicted {
			e.refreshCounts()
		}
		e.mu.Unlock()
		return reply, err
	}
}

// evictLocked removes e from the live map and shuts its session down, after
// an autosave if requested. The caller holds e.mu.
func (p *Pool) evictLocked(ctx context.Context, e *entry, autosave bool) error {
	var err error
	if autosave {
		err = p.saveSnapshot(ctx, e.s, autosaveSlot)
	}
	p.mu.Lock()
	if p.sessions[e.s.ID] == e {
		delete(p.sessions, e.s.ID)
	}
	p.mu.Unlock()
	e.s.Shutdown(ctx)
	e.evicted = true
	return err
}

// evict evicts the live session id, if any, and reports whether there was
// one.
func (p *Pool) evict(ctx context.Context, id string, autosave bool) (bool, error) {
	e := p.live(id)
	if e == nil {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return false, nil
	}
	return true, p.evictLocked(ctx, e, autosave)
}

// evictAll evicts every live session and returns how many there were.
func (p *Pool) evictAll(ctx context.Context, autosave bool) int {
	n := 0
	for _, e := range p.liveEntries() {
		ok, err := p.evict(ctx, e.s.ID, autosave)
		if err != nil {
			ctxlog.FromContext(ctx).Error("Autosave on eviction failed.", "sessionID", e.s.ID, "error", err)
		}
		if ok {
			n++
		}
	}
	return n
}

// slot selects one of the two soft snapshots of a record.
type slot func(rec *store.SessionRecord) *store.Snapshot

func autosaveSlot(rec *store.SessionRecord) *store.Snapshot { return &rec.Autosave }
func quicksaveSlot(rec *store.SessionRecord) *store.Snapshot { return &rec.Quicksave }

// saveSnapshot snapshots s into the slot of its record. The structural
// definition is refreshed too. The replaced sidecar is removed only after
// the record is stored.
func (p *Pool) saveSnapshot(ctx context.Context, s *session.Session, sl slot) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	rec, err := p.store.Session(ctx, s.ID)
	if err != nil {
		session.RemoveSidecar(ctx, snap)
		return err
	}
	target := sl(&rec)
	old := *target
	*target = snap
	rec.GraphDef = snap.GraphDef
	if err := p.store.SaveSession(ctx, rec); err != nil {
		session.RemoveSidecar(ctx, snap)
		return err
	}
	session.RemoveSidecar(ctx, old)
	return nil
}

// persistGraphDef stores the current structure of s as the durable
// definition of its record.
func (p *Pool) persistGraphDef(ctx context.Context, s *session.Session) error {
	def, err := s.GraphDef()
	if err != nil {
		return err
	}
	rec, err := p.store.Session(ctx, s.ID)
	if err != nil {
		return err
	}
	rec.GraphDef = def
	return p.store.SaveSession(ctx, rec)
}

// clearSnapshots zeroes the given soft snapshots of rec and returns the
// previous ones, whose sidecars the caller removes once rec is stored.
func clearSnapshots(rec *store.SessionRecord, slots ...slot) []store.Snapshot {
	var old []store.Snapshot
	for _, sl := range slots {
		snap := sl(rec)
		if !snap.IsZero() {
			old = append(old, *snap)
		}
		*snap = store.Snapshot{}
	}
	return old
}

func removeSidecars(ctx context.Context, snaps []store.Snapshot) {
	for _, snap := range snaps {
		session.RemoveSidecar(ctx, snap)
	}
}

// replaceSession discards the live session id without saving, clears the
// drop snapshots of its record and installs the session build returns for
// the updated record.
func (p *Pool) replaceSession(ctx context.Context, id string, drop []slot, build func(rec store.SessionRecord) (*session.Session, error)) (*entry, error) {
	if _, err := p.evict(ctx, id, false); err != nil {
		return nil, err
	}
	rec, err := p.store.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	dropped := clearSnapshots(&rec, drop...)
	s, err := build(rec)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveSession(ctx, rec); err != nil {
		s.Shutdown(ctx)
		return nil, err
	}
	removeSidecars(ctx, dropped)
	return p.install(ctx, s), nil
}

// cleanupIdle evicts, with an autosave, every session idle longer than the
// idle timeout. Busy sessions are skipped.
func (p *Pool) cleanupIdle(ctx context.Context) int {
	logger := ctxlog.FromContext(ctx)
	now := p.now()
	n := 0
	for _, e := range p.liveEntries() {
		if e.s.IdleFor(now) <= p.cfg.IdleTimeout {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		if !e.evicted {
			if err := p.evictLocked(ctx, e, true); err != nil && !errors.Is(err, store.ErrNotFound) {
				logger.Error("Autosave of idle session failed.", "sessionID", e.s.ID, "error", err)
			}
			logger.Info("Evicted idle session.", "sessionID", e.s.ID)
			n++
		}
		e.mu.Unlock()
	}
	return n
}
