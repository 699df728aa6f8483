// Package storetest is the conformance suite every store.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/flowlab/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"RequestsAreClaimedInOrder", testClaimOrder},
		{"ClaimLimit", testClaimLimit},
		{"ClaimIsExclusive", testClaimExclusive},
		{"ReplyOnce", testReplyOnce},
		{"TakeReplyRemoves", testTakeReply},
		{"SessionLifecycle", testSessionLifecycle},
		{"SessionsSorted", testSessionsSorted},
		{"Purge", testPurge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// RawWriter appends raw bytes to the request queue of s the way a foreign
// writer would, bypassing PostRequest.
type RawWriter func(t *testing.T, s store.Store, raw []byte)

// RunMalformedRequests checks that a request row that does not decode is
// dropped without holding back the requests queued around it. Stores that
// keep typed requests have no such rows and do not run it.
func RunMalformedRequests(t *testing.T, newStore Factory, writeRaw RawWriter) {
	ctx := context.Background()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })

	first, last := request(1), request(3)
	require.NoError(t, s.PostRequest(ctx, first))
	writeRaw(t, s, []byte{0xc1})
	require.NoError(t, s.PostRequest(ctx, last))

	got, err := s.ClaimRequests(ctx, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
	if diff := cmp.Diff([]store.Request{first, last}, got, timeEqual); diff != "" {
		t.Errorf("claimed requests mismatch (-want +got):\n%s", diff)
	}

	again, err := s.ClaimRequests(ctx, 0)
	require.NoError(t, err, "the malformed row is gone")
	assert.Empty(t, again)
}

func request(i int) store.Request {
	return store.Request{
		ID:        fmt.Sprintf("req-%03d", i),
		Username:  "ada",
		SessionID: "gs-1",
		Command:   "update",
		Payload:   json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		TabID:     "tab",
		Created:   time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func testClaimOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	var want []store.Request
	for i := range 5 {
		r := request(i)
		require.NoError(t, s.PostRequest(ctx, r))
		want = append(want, r)
	}

	got, err := s.ClaimRequests(ctx, 0)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, timeEqual); diff != "" {
		t.Errorf("claimed requests mismatch (-want +got):\n%s", diff)
	}

	again, err := s.ClaimRequests(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed requests are removed")
}

func testClaimLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.PostRequest(ctx, request(i)))
	}

	first, err := s.ClaimRequests(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "req-000", first[0].ID)
	assert.Equal(t, "req-001", first[1].ID)

	rest, err := s.ClaimRequests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, "req-002", rest[0].ID)
}

func testClaimExclusive(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 50
	for i := range n {
		require.NoError(t, s.PostRequest(ctx, request(i)))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				reqs, err := s.ClaimRequests(ctx, 3)
				if err != nil || len(reqs) == 0 {
					return
				}
				mu.Lock()
				for _, r := range reqs {
					seen[r.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "request %s claimed more than once", id)
	}
}

func testReplyOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	reply := store.Reply{RequestID: "req-1", Payload: json.RawMessage(`{"ok":true}`), Created: time.Now().UTC()}
	require.NoError(t, s.PutReply(ctx, reply))

	err := s.PutReply(ctx, store.Reply{RequestID: "req-1", Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, store.ErrReplyExists)

	got, err := s.TakeReply(ctx, "req-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got.Payload))
}

func testTakeReply(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.TakeReply(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutReply(ctx, store.Reply{RequestID: "r", Payload: json.RawMessage(`1`)}))
	_, err = s.TakeReply(ctx, "r")
	require.NoError(t, err)
	_, err = s.TakeReply(ctx, "r")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testSessionLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := store.SessionRecord{
		ID:       "gs-1",
		Username: "ada",
		Created:  time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		GraphDef: `{"nodes":{},"links":{},"datas":{}}`,
		Title:    "first",
	}

	_, err := s.Session(ctx, rec.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.SaveSession(ctx, rec), store.ErrNotFound)

	require.NoError(t, s.CreateSession(ctx, rec))
	require.ErrorIs(t, s.CreateSession(ctx, rec), store.ErrSessionExists)
	require.ErrorIs(t, s.CreateSession(ctx, store.SessionRecord{}), store.ErrInvalidRecord)

	got, err := s.Session(ctx, rec.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got, timeEqual); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}

	rec.Autosave = store.Snapshot{
		GraphDef: rec.GraphDef,
		Blob:     []byte{0x81, 0x01},
		Sidecar:  "/tmp/sidecar.mpk",
		SavedAt:  time.Date(2026, 2, 3, 5, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveSession(ctx, rec))
	got, err = s.Session(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Autosave.IsZero())
	assert.True(t, got.Quicksave.IsZero())
	assert.Equal(t, rec.Autosave.Blob, got.Autosave.Blob)

	require.NoError(t, s.DeleteSession(ctx, rec.ID))
	require.ErrorIs(t, s.DeleteSession(ctx, rec.ID), store.ErrNotFound)
	_, err = s.Session(ctx, rec.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testSessionsSorted(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.CreateSession(ctx, store.SessionRecord{ID: id, Username: "u-" + id}))
	}
	recs, err := s.Sessions(ctx)
	require.NoError(t, err)
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, []string{"u-a", "u-b", "u-c"}, store.Usernames(recs))
}

func testPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PostRequest(ctx, request(1)))
	require.NoError(t, s.PutReply(ctx, store.Reply{RequestID: "r", Payload: json.RawMessage(`1`)}))
	require.NoError(t, s.CreateSession(ctx, store.SessionRecord{ID: "keep"}))

	require.NoError(t, s.Purge(ctx))

	reqs, err := s.ClaimRequests(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, reqs)
	_, err = s.TakeReply(ctx, "r")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Session(ctx, "keep")
	require.NoError(t, err, "purge leaves sessions alone")
}

// timeEqual compares instants regardless of location and monotonic
// readings, which serialising backends drop.
var timeEqual = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
