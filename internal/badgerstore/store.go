package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/specialistvlad/flowlab/internal/store"
)

var (
	prefixRequest = []byte("req/")
	prefixReply   = []byte("reply/")
	prefixSession = []byte("sess/")
	keySequence   = []byte("seq/req")
)

// maxConflictRetries bounds the retries of a transaction that lost a race.
const maxConflictRetries = 16

// Store is a store.Store on BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	gc  *gcRunner
}

var _ store.Store = (*Store)(nil)

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	seq, err := db.GetSequence(keySequence, 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("request sequence: %w", err)
	}
	s := &Store{db: db, seq: seq}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		s.gc = startGC(db, cfg)
	}
	return s, nil
}

func requestKey(n uint64) []byte {
	return fmt.Appendf(bytes.Clone(prefixRequest), "%020d", n)
}

func replyKey(id string) []byte {
	return append(bytes.Clone(prefixReply), id...)
}

func sessionKey(id string) []byte {
	return append(bytes.Clone(prefixSession), id...)
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func getValue(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, v)
	})
}

func setValue(txn *badger.Txn, key []byte, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

// PostRequest appends req under the next sequence number.
func (s *Store) PostRequest(ctx context.Context, req store.Request) error {
	if req.ID == "" {
		return fmt.Errorf("%w: request without id", store.ErrInvalidRecord)
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next request sequence: %w", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return setValue(txn, requestKey(n), req)
	})
}

// claimChunk bounds the rows one claim transaction visits, keeping it clear
// of badger.ErrTxnTooBig on a long queue.
const claimChunk = 256

// ClaimRequests deletes and returns the oldest max requests, one bounded
// transaction at a time. Rows that do not decode are deleted and reported
// in the returned error next to the requests that did.
func (s *Store) ClaimRequests(ctx context.Context, max int) ([]store.Request, error) {
	var (
		claimed []store.Request
		errs    []error
	)
	for max <= 0 || len(claimed) < max {
		limit := claimChunk
		if max > 0 {
			limit = min(limit, max-len(claimed))
		}
		reqs, bad, more, err := s.claimChunk(ctx, limit)
		claimed = append(claimed, reqs...)
		errs = append(errs, bad...)
		if err != nil {
			errs = append(errs, err)
			break
		}
		if !more {
			break
		}
	}
	return claimed, errors.Join(errs...)
}

// claimChunk deletes up to limit request rows in one transaction. more
// reports whether rows remain behind them.
func (s *Store) claimChunk(ctx context.Context, limit int) (reqs []store.Request, bad []error, more bool, err error) {
	err = s.update(ctx, func(txn *badger.Txn) error {
		reqs, bad, more = nil, nil, false
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixRequest
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefixRequest); it.ValidForPrefix(prefixRequest); it.Next() {
			if len(keys) >= limit {
				more = true
				break
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			keys = append(keys, key)
			var req store.Request
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &req)
			}); err != nil {
				bad = append(bad, fmt.Errorf("%w: request %s: %v", store.ErrInvalidRecord, key, err))
				continue
			}
			reqs = append(reqs, req)
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return reqs, bad, more, nil
}

// PutReply stores reply unless one already exists.
func (s *Store) PutReply(ctx context.Context, reply store.Reply) error {
	key := replyKey(reply.RequestID)
	return s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", store.ErrReplyExists, reply.RequestID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return setValue(txn, key, reply)
	})
}

// TakeReply removes and returns the reply to requestID.
func (s *Store) TakeReply(ctx context.Context, requestID string) (store.Reply, error) {
	var reply store.Reply
	key := replyKey(requestID)
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getValue(txn, key, &reply); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.Reply{}, fmt.Errorf("reply %s: %w", requestID, store.ErrNotFound)
	}
	return reply, err
}

// CreateSession stores a new session record.
func (s *Store) CreateSession(ctx context.Context, rec store.SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: session without id", store.ErrInvalidRecord)
	}
	key := sessionKey(rec.ID)
	return s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", store.ErrSessionExists, rec.ID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return setValue(txn, key, rec)
	})
}

// Session returns the record of id.
func (s *Store) Session(ctx context.Context, id string) (store.SessionRecord, error) {
	var rec store.SessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getValue(txn, sessionKey(id), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.SessionRecord{}, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return rec, err
}

// SaveSession overwrites an existing record.
func (s *Store) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	key := sessionKey(rec.ID)
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return setValue(txn, key, rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("session %s: %w", rec.ID, store.ErrNotFound)
	}
	return err
}

// DeleteSession removes the record of id.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	key := sessionKey(id)
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return err
}

// Sessions returns every record in key order, which is id order.
func (s *Store) Sessions(ctx context.Context) ([]store.SessionRecord, error) {
	var out []store.SessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixSession
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefixSession); it.ValidForPrefix(prefixSession); it.Next() {
			var rec store.SessionRecord
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Purge deletes every request and reply.
func (s *Store) Purge(ctx context.Context) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for _, prefix := range [][]byte{prefixRequest, prefixReply} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return errors.Join(s.seq.Release(), s.db.Close())
}
