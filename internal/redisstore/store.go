// Package redisstore implements store.Store on Redis, for deployments where
// the front end and the worker processes share one queue.
//
// Layout, with the default "flowlab" prefix:
//
//	flowlab:requests          list of msgpack requests, FIFO
//	flowlab:reply:<id>        msgpack reply, written once with SETNX
//	flowlab:session:<id>      msgpack session record
//	flowlab:sessions          set of session ids
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/specialistvlad/flowlab/internal/store"
)

// Config configures the Redis connection and key layout.
type Config struct {
	URL      string
	Prefix   string
	ReplyTTL time.Duration
}

// Store is a store.Store on Redis.
type Store struct {
	client   *redis.Client
	prefix   string
	replyTTL time.Duration
}

var _ store.Store = (*Store)(nil)

// Open connects to cfg.URL and pings the server.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "flowlab"
	}
	return &Store{client: client, prefix: prefix, replyTTL: cfg.ReplyTTL}, nil
}

func (s *Store) requestsKey() string { return s.prefix + ":requests" }
func (s *Store) sessionsKey() string { return s.prefix + ":sessions" }
func (s *Store) replyKey(id string) string { return s.prefix + ":reply:" + id }
func (s *Store) sessionKey(id string) string { return s.prefix + ":session:" + id }

// PostRequest pushes req onto the tail of the queue.
func (s *Store) PostRequest(ctx context.Context, req store.Request) error {
	if req.ID == "" {
		return fmt.Errorf("%w: request without id", store.ErrInvalidRecord)
	}
	b, err := msgpack.Marshal(req)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.requestsKey(), b).Err()
}

// ClaimRequests pops up to max requests from the head of the queue. Both
// LPOP and the LRANGE/DEL transaction are atomic, so no request is handed
// out twice. Entries that do not decode are dropped and reported in the
// returned error next to the requests that did.
func (s *Store) ClaimRequests(ctx context.Context, max int) ([]store.Request, error) {
	var raw []string
	if max > 0 {
		vals, err := s.client.LPopCount(ctx, s.requestsKey(), max).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		raw = vals
	} else {
		var lrange *redis.StringSliceCmd
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			lrange = pipe.LRange(ctx, s.requestsKey(), 0, -1)
			pipe.Del(ctx, s.requestsKey())
			return nil
		})
		if err != nil {
			return nil, err
		}
		raw = lrange.Val()
	}

	out := make([]store.Request, 0, len(raw))
	var errs []error
	for i, r := range raw {
		var req store.Request
		if err := msgpack.Unmarshal([]byte(r), &req); err != nil {
			errs = append(errs, fmt.Errorf("%w: request at %d: %v", store.ErrInvalidRecord, i, err))
			continue
		}
		out = append(out, req)
	}
	return out, errors.Join(errs...)
}

// PutReply stores reply with SETNX.
func (s *Store) PutReply(ctx context.Context, reply store.Reply) error {
	b, err := msgpack.Marshal(reply)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.replyKey(reply.RequestID), b, s.replyTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrReplyExists, reply.RequestID)
	}
	return nil
}

// TakeReply removes and returns the reply with GETDEL.
func (s *Store) TakeReply(ctx context.Context, requestID string) (store.Reply, error) {
	b, err := s.client.GetDel(ctx, s.replyKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Reply{}, fmt.Errorf("reply %s: %w", requestID, store.ErrNotFound)
	}
	if err != nil {
		return store.Reply{}, err
	}
	var reply store.Reply
	if err := msgpack.Unmarshal(b, &reply); err != nil {
		return store.Reply{}, fmt.Errorf("decode reply %s: %w", requestID, err)
	}
	return reply, nil
}

// CreateSession stores rec if its id is free.
func (s *Store) CreateSession(ctx context.Context, rec store.SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: session without id", store.ErrInvalidRecord)
	}
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(rec.ID), b, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrSessionExists, rec.ID)
	}
	return s.client.SAdd(ctx, s.sessionsKey(), rec.ID).Err()
}

// Session returns the record of id.
func (s *Store) Session(ctx context.Context, id string) (store.SessionRecord, error) {
	b, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.SessionRecord{}, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.SessionRecord{}, err
	}
	var rec store.SessionRecord
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return store.SessionRecord{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return rec, nil
}

// SaveSession overwrites an existing record with SET XX.
func (s *Store) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.sessionKey(rec.ID), b, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s: %w", rec.ID, store.ErrNotFound)
	}
	return nil
}

// DeleteSession removes the record of id.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return s.client.SRem(ctx, s.sessionsKey(), id).Err()
}

// Sessions returns every record, sorted by id.
func (s *Store) Sessions(ctx context.Context) ([]store.SessionRecord, error) {
	ids, err := s.client.SMembers(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	slices.Sort(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]store.SessionRecord, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		var rec store.SessionRecord
		if err := msgpack.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", ids[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Purge deletes the queue and every reply key.
func (s *Store) Purge(ctx context.Context) error {
	keys := []string{s.requestsKey()}
	iter := s.client.Scan(ctx, 0, s.replyKey("*"), 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return s.client.Del(ctx, keys...).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
