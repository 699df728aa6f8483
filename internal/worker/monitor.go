package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/store"
)

type metrics struct {
	users       prometheus.Gauge
	persisted   prometheus.Gauge
	live        prometheus.Gauge
	held        prometheus.Gauge
	registered  prometheus.Gauge
	variables   prometheus.Gauge
	tasks       *prometheus.CounterVec
	taskSeconds *prometheus.HistogramVec
	loads       *prometheus.CounterVec
	evictions   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: "flowlab", Name: name, Help: help})
	}
	return &metrics{
		users:      gauge("users", "Distinct owners of persisted sessions."),
		persisted:  gauge("sessions_persisted", "Persisted session records."),
		live:       gauge("sessions_live", "Sessions loaded in this worker process."),
		held:       gauge("held_values", "Object nodes holding a value across live sessions."),
		registered: gauge("registered_values", "Values registered with session middleware."),
		variables:  gauge("workspace_variables", "Variables in the shared workspace."),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowlab",
			Name:      "tasks_total",
			Help:      "Processed requests by command and outcome.",
		}, []string{"command", "outcome"}),
		taskSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowlab",
			Name:      "task_duration_seconds",
			Help:      "Request processing time by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowlab",
			Name:      "session_loads_total",
			Help:      "Session resolutions by fallback step.",
		}, []string{"step"}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "flowlab",
			Name:      "idle_evictions_total",
			Help:      "Sessions evicted by the cleanup loop.",
		}),
	}
}

// Sample holds the aggregate counts taken by the monitor loop.
type Sample struct {
	Users      int
	Persisted  int
	Live       int
	HeldValues int
	Registered int
	Variables  int
}

// Sample collects the current aggregate counts. Per-session counts are the
// ones recorded after each session's latest task.
func (p *Pool) Sample(ctx context.Context) (Sample, error) {
	recs, err := p.store.Sessions(ctx)
	if err != nil {
		return Sample{}, err
	}
	s := Sample{
		Users:     len(store.Usernames(recs)),
		Persisted: len(recs),
		Variables: p.factory.Engine.Len(),
	}
	for _, e := range p.liveEntries() {
		s.Live++
		s.HeldValues += int(e.held.Load())
		s.Registered += int(e.registered.Load())
	}
	return s, nil
}

func (p *Pool) monitorLoop(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s, err := p.Sample(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Sampling metrics failed.", "error", err)
			}
			continue
		}
		p.metrics.users.Set(float64(s.Users))
		p.metrics.persisted.Set(float64(s.Persisted))
		p.metrics.live.Set(float64(s.Live))
		p.metrics.held.Set(float64(s.HeldValues))
		p.metrics.registered.Set(float64(s.Registered))
		p.metrics.variables.Set(float64(s.Variables))
		logger.Info("metrics",
			"users", s.Users,
			"sessions", s.Persisted,
			"live", s.Live,
			"heldValues", s.HeldValues,
			"registered", s.Registered,
			"variables", s.Variables,
		)
	}
}

func (p *Pool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n := p.cleanupIdle(ctx); n > 0 {
			p.metrics.evictions.Add(float64(n))
		}
	}
}
