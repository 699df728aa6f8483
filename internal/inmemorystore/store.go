package inmemorystore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/specialistvlad/flowlab/internal/store"
)

// Store is an in-memory implementation of store.Store.
//
// # Concurrency Model
//
// A single mutex guards all three tables. Unlike a node-state cache, the
// queue needs multi-key atomicity: a claim must remove a batch of requests
// in one step so two drain loops never receive the same request. Every
// operation is short, so contention stays low.
//
// Records are copied on the way in and on the way out, so callers never
// share slices with the store.
type Store struct {
	mu       sync.Mutex
	queue    []store.Request
	replies  map[string]store.Reply
	sessions map[string]store.SessionRecord
}

var _ store.Store = (*Store)(nil)

// New creates a new, empty in-memory store.
func New() *Store {
	return &Store{
		replies:  make(map[string]store.Reply),
		sessions: make(map[string]store.SessionRecord),
	}
}

// PostRequest appends req to the queue.
func (s *Store) PostRequest(ctx context.Context, req store.Request) error {
	if req.ID == "" {
		return fmt.Errorf("%w: request without id", store.ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, cloneRequest(req))
	return nil
}

// ClaimRequests removes and returns up to max requests from the head of the
// queue.
func (s *Store) ClaimRequests(ctx context.Context, max int) ([]store.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	if max > 0 && max < n {
		n = max
	}
	claimed := make([]store.Request, n)
	copy(claimed, s.queue[:n])
	s.queue = slices.Delete(s.queue, 0, n)
	return claimed, nil
}

// PutReply stores the reply unless the request was already answered.
func (s *Store) PutReply(ctx context.Context, reply store.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.replies[reply.RequestID]; exists {
		return fmt.Errorf("%w: %s", store.ErrReplyExists, reply.RequestID)
	}
	reply.Payload = slices.Clone(reply.Payload)
	s.replies[reply.RequestID] = reply
	return nil
}

// TakeReply removes and returns the reply to requestID.
func (s *Store) TakeReply(ctx context.Context, requestID string) (store.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.replies[requestID]
	if !ok {
		return store.Reply{}, fmt.Errorf("reply %s: %w", requestID, store.ErrNotFound)
	}
	delete(s.replies, requestID)
	return reply, nil
}

// CreateSession stores a new session record.
func (s *Store) CreateSession(ctx context.Context, rec store.SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: session without id", store.ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[rec.ID]; exists {
		return fmt.Errorf("%w: %s", store.ErrSessionExists, rec.ID)
	}
	s.sessions[rec.ID] = cloneSession(rec)
	return nil
}

// Session returns a copy of the record of id.
func (s *Store) Session(ctx context.Context, id string) (store.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return store.SessionRecord{}, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return cloneSession(rec), nil
}

// SaveSession overwrites an existing record.
func (s *Store) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.ID]; !ok {
		return fmt.Errorf("session %s: %w", rec.ID, store.ErrNotFound)
	}
	s.sessions[rec.ID] = cloneSession(rec)
	return nil
}

// DeleteSession removes the record of id.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	delete(s.sessions, id)
	return nil
}

// Sessions returns copies of every record, sorted by id.
func (s *Store) Sessions(ctx context.Context) ([]store.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Collect(maps.Keys(s.sessions))
	sort.Strings(ids)
	out := make([]store.SessionRecord, len(ids))
	for i, id := range ids {
		out[i] = cloneSession(s.sessions[id])
	}
	return out, nil
}

// Purge drops the queue and all replies.
func (s *Store) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.replies = make(map[string]store.Reply)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func cloneRequest(r store.Request) store.Request {
	r.Payload = slices.Clone(r.Payload)
	return r
}

func cloneSession(rec store.SessionRecord) store.SessionRecord {
	rec.Quicksave.Blob = slices.Clone(rec.Quicksave.Blob)
	rec.Autosave.Blob = slices.Clone(rec.Autosave.Blob)
	return rec
}
