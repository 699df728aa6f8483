// Package store defines the persistence collaborator of the worker pool: the
// request queue, the reply table and the session records, plus the record
// types they hold.
//
// Three implementations exist: inmemorystore for tests and single-process
// runs, badgerstore for an embedded on-disk queue, and redisstore for a
// queue shared between the front end and several worker processes. All of
// them are checked against the storetest conformance suite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session record or reply does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReplyExists is returned by PutReply when the request was already
	// answered.
	ErrReplyExists = errors.New("reply already exists")
	// ErrSessionExists is returned by CreateSession on an id collision.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidRecord is returned when a record lacks its id or does not
	// decode.
	ErrInvalidRecord = errors.New("invalid record")
)

// Request is one queued task. ID correlates it with its reply.
type Request struct {
	ID        string          `msgpack:"id"`
	Username  string          `msgpack:"username"`
	SessionID string          `msgpack:"gs_id"`
	Command   string          `msgpack:"cmd"`
	Payload   json.RawMessage `msgpack:"payload"`
	TabID     string          `msgpack:"tab_id"`
	Created   time.Time       `msgpack:"created"`
}

// Reply answers exactly one Request.
type Reply struct {
	RequestID string          `msgpack:"request_id"`
	Payload   json.RawMessage `msgpack:"payload"`
	Created   time.Time       `msgpack:"created"`
}

// Snapshot is a soft save point of a live session: the structural graph
// definition, the serialised graph blob and the path of the workspace
// sidecar file holding its values. A zero SavedAt marks an empty snapshot.
type Snapshot struct {
	GraphDef string    `msgpack:"graphdef"`
	Blob     []byte    `msgpack:"blob"`
	Sidecar  string    `msgpack:"sidecar"`
	SavedAt  time.Time `msgpack:"saved_at"`
}

// IsZero reports whether the snapshot was never taken.
func (s Snapshot) IsZero() bool {
	return s.SavedAt.IsZero()
}

// SessionRecord is the durable state of a graph session. GraphDef is the
// structural definition every load can fall back to.
type SessionRecord struct {
	ID        string    `msgpack:"id"`
	Username  string    `msgpack:"username"`
	Created   time.Time `msgpack:"created"`
	GraphDef  string    `msgpack:"graphdef"`
	Quicksave Snapshot  `msgpack:"quicksave"`
	Autosave  Snapshot  `msgpack:"autosave"`

	Example     bool   `msgpack:"example"`
	Title       string `msgpack:"title"`
	Description string `msgpack:"description"`
	Comment     string `msgpack:"comment"`
	ListIndex   int    `msgpack:"list_index"`
}

// Store persists the request queue, replies and session records. All
// methods are safe for concurrent use.
type Store interface {
	// PostRequest appends req to the queue.
	PostRequest(ctx context.Context, req Request) error
	// ClaimRequests removes and returns up to max queued requests in FIFO
	// order. A max of zero or less claims everything queued. Rows that can
	// not be decoded are removed too and reported by an error wrapping
	// ErrInvalidRecord, returned together with the valid requests.
	ClaimRequests(ctx context.Context, max int) ([]Request, error)
	// PutReply stores the reply to a request. A second reply to the same
	// request fails with ErrReplyExists.
	PutReply(ctx context.Context, reply Reply) error
	// TakeReply removes and returns the reply to requestID, or ErrNotFound.
	TakeReply(ctx context.Context, requestID string) (Reply, error)

	// CreateSession stores a new record, or fails with ErrSessionExists.
	CreateSession(ctx context.Context, rec SessionRecord) error
	// Session returns the record of id, or ErrNotFound.
	Session(ctx context.Context, id string) (SessionRecord, error)
	// SaveSession overwrites the record of rec.ID, or fails with
	// ErrNotFound.
	SaveSession(ctx context.Context, rec SessionRecord) error
	// DeleteSession removes the record of id, or fails with ErrNotFound.
	DeleteSession(ctx context.Context, id string) error
	// Sessions returns every record, sorted by id.
	Sessions(ctx context.Context) ([]SessionRecord, error)

	// Purge drops every queued request and stored reply.
	Purge(ctx context.Context) error
	// Close releases the backend.
	Close() error
}

// Usernames returns the distinct owners of recs, in first-seen order.
func Usernames(recs []SessionRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range recs {
		if _, ok := seen[r.Username]; ok {
			continue
		}
		seen[r.Username] = struct{}{}
		out = append(out, r.Username)
	}
	return out
}
