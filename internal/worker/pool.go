package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/session"
	"github.com/specialistvlad/flowlab/internal/store"
)

// ErrTerminated is the fatal error of requests that were claimed but never
// processed because the pool shut down.
var ErrTerminated = errors.New("worker pool terminated")

// Pool is the worker pool. Create it with New, run it with Start and stop it
// with Terminate.
type Pool struct {
	cfg     Config
	store   store.Store
	factory *session.Factory
	tokens  *TokenBook
	metrics *metrics
	tracer  trace.Tracer
	now     func() time.Time

	// mu guards the sessions map only; entries carry their own lock.
	mu       sync.Mutex
	sessions map[string]*entry

	queues []chan store.Request

	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
	stopErr  error
}

// Option configures a Pool.
type Option func(*Pool)

// WithRegisterer registers the pool's metrics with reg instead of the
// default prometheus registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.metrics = newMetrics(reg) }
}

// WithTracerProvider takes task spans from tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pool) { p.tracer = tp.Tracer(tracerName) }
}

// WithClock replaces time.Now, for idle eviction tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

const tracerName = "github.com/specialistvlad/flowlab/internal/worker"

// New creates a pool over st. Sessions are built by factory.
func New(cfg Config, st store.Store, factory *session.Factory, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker configuration: %w", err)
	}
	p := &Pool{
		cfg:      cfg,
		store:    st,
		factory:  factory,
		tokens:   NewTokenBook(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		sessions: make(map[string]*entry),
		queues:   make([]chan store.Request, cfg.Workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan store.Request, cfg.QueueSize)
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = newMetrics(prometheus.DefaultRegisterer)
	}
	return p, nil
}

// Tokens returns the pool's tab token book.
func (p *Pool) Tokens() *TokenBook {
	return p.tokens
}

// Start launches the drain loop, the workers, the cleanup loop and the
// monitor loop. They run until Terminate is called or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p.cancel = cancel
	p.group = g

	g.Go(func() error { return p.MainWork(gctx) })
	for i := range p.queues {
		g.Go(func() error {
			p.work(gctx, i)
			return nil
		})
	}
	g.Go(func() error {
		p.cleanupLoop(gctx)
		return nil
	})
	g.Go(func() error {
		p.monitorLoop(gctx)
		return nil
	})
	ctxlog.FromContext(ctx).Info("Worker pool started.", "workers", len(p.queues))
}

// Terminate stops every loop, waits for them, answers claimed requests that
// were never processed and evicts every live session with an autosave. It
// is safe to call more than once.
func (p *Pool) Terminate(ctx context.Context) error {
	p.stopOnce.Do(func() {
		logger := ctxlog.FromContext(ctx)
		logger.Info("Terminating worker pool.")
		if p.cancel != nil {
			p.cancel()
			p.stopErr = p.group.Wait()
		}
		p.failPending(ctx)
		n := p.evictAll(ctx, true)
		logger.Info("Worker pool terminated.", "evicted", n)
	})
	return p.stopErr
}

// shard returns the worker that owns sessionID.
func (p *Pool) shard(sessionID string) int {
	return int(xxhash.Sum64String(sessionID) % uint64(len(p.queues)))
}

// MainWork claims queued requests and hands each to the worker that owns
// its session. Claimed requests are deleted from the store at claim time.
// Requests claimed alongside a claim error are still dispatched.
func (p *Pool) MainWork(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Drain loop started.")
	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Drain loop finished.")
			return nil
		case <-ticker.C:
		}

		reqs, err := p.store.ClaimRequests(ctx, p.cfg.ClaimBatch)
		if err != nil && ctx.Err() == nil {
			logger.Error("Claiming requests failed.", "error", err, "claimed", len(reqs))
		}
		for i, req := range reqs {
			select {
			case p.queues[p.shard(req.SessionID)] <- req:
			case <-ctx.Done():
				for _, lost := range reqs[i:] {
					p.writeReply(context.WithoutCancel(ctx), lost.ID, fatalReply(ErrTerminated))
				}
				return nil
			}
		}
	}
}

// work is the loop of one worker: a timed dequeue that rechecks for
// termination when idle.
func (p *Pool) work(ctx context.Context, workerID int) {
	ctx = ctxlog.With(ctx, "workerID", workerID)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.")
	queue := p.queues[workerID]

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Worker finished.")
			return
		case req := <-queue:
			p.process(ctx, req)
		case <-time.After(p.cfg.DequeueTimeout):
		}
	}
}

// process runs one request to completion and writes its reply. Pool
// cancellation does not interrupt it.
func (p *Pool) process(ctx context.Context, req store.Request) {
	ctx = ctxlog.With(context.WithoutCancel(ctx),
		"requestID", req.ID, "sessionID", req.SessionID, "command", req.Command)
	ctx, span := p.tracer.Start(ctx, "worker.task", trace.WithAttributes(
		attribute.String("flowlab.command", req.Command),
		attribute.String("flowlab.session_id", req.SessionID),
	))
	defer span.End()

	start := p.now()
	reply := p.handle(ctx, req)
	outcome := "ok"
	switch {
	case reply.FatalError != "":
		outcome = "fatal"
		span.SetStatus(codes.Error, reply.FatalError)
	case reply.Error != "":
		outcome = "error"
	}
	p.metrics.tasks.WithLabelValues(req.Command, outcome).Inc()
	p.metrics.taskSeconds.WithLabelValues(req.Command).Observe(p.now().Sub(start).Seconds())
	p.writeReply(ctx, req.ID, reply)
}

// handle dispatches req and converts errors and panics into fatal replies.
func (p *Pool) handle(ctx context.Context, req store.Request) (reply *Reply) {
	logger := ctxlog.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panicked.", "panic", r, "stack", string(debug.Stack()))
			reply = fatalReply(fmt.Errorf("panic: %v", r))
		}
	}()

	h, ok := handlers[Command(req.Command)]
	if !ok {
		return fatalReply(fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command))
	}
	logger.Debug("Handling request.")
	r, err := h(p, ctx, req)
	if err != nil {
		logger.Error("Request failed.", "error", err)
		return fatalReply(err)
	}
	return r
}

func (p *Pool) writeReply(ctx context.Context, requestID string, reply *Reply) {
	logger := ctxlog.FromContext(ctx)
	payload, err := reply.Encode()
	if err != nil {
		logger.Error("Encoding reply failed.", "error", err)
		payload, _ = fatalReply(fmt.Errorf("encoding reply: %w", err)).Encode()
	}
	err = p.store.PutReply(ctx, store.Reply{RequestID: requestID, Payload: payload, Created: p.now().UTC()})
	if err != nil {
		logger.Error("Writing reply failed.", "requestID", requestID, "error", err)
	}
}

// failPending answers requests left in the worker queues after the workers
// stopped.
func (p *Pool) failPending(ctx context.Context) {
	for _, q := range p.queues {
		for {
			select {
			case req := <-q:
				p.writeReply(ctx, req.ID, fatalReply(ErrTerminated))
				continue
			default:
			}
			break
		}
	}
}
