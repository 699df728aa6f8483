package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/specialistvlad/flowlab/internal/store"
)

// Client posts requests to the queue and polls for their replies.
type Client struct {
	Store store.Store
	// Timeout bounds AwaitReply when the context has no deadline. Zero
	// waits indefinitely.
	Timeout time.Duration
	// PollInterval is the delay between reply lookups.
	PollInterval time.Duration
}

// ErrReplyTimeout is returned when no reply arrived in time.
var ErrReplyTimeout = errors.New("timed out waiting for reply")

const (
	// DefaultReplyTimeout is how long front ends wait for a reply.
	DefaultReplyTimeout = 30 * time.Second
	// DefaultPollInterval is used when PollInterval is zero.
	DefaultPollInterval = 300 * time.Millisecond
)

// Post queues a request and returns its id. A missing id is generated.
func (c *Client) Post(ctx context.Context, req store.Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Created.IsZero() {
		req.Created = time.Now().UTC()
	}
	if err := c.Store.PostRequest(ctx, req); err != nil {
		return "", fmt.Errorf("posting %s request: %w", req.Command, err)
	}
	return req.ID, nil
}

// AwaitReply polls until the reply to requestID arrives and decodes it.
func (c *Client) AwaitReply(ctx context.Context, requestID string) (*Reply, error) {
	if c.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := c.Store.TakeReply(ctx, requestID)
		switch {
		case err == nil:
			return DecodeReply(r.Payload)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: request %s", ErrReplyTimeout, requestID)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Do posts req and waits for its reply.
func (c *Client) Do(ctx context.Context, req store.Request) (*Reply, error) {
	id, err := c.Post(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.AwaitReply(ctx, id)
}
