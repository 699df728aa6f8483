package worker

import (
	"errors"
	"time"
)

// Config tunes a Pool.
type Config struct {
	// Workers is the number of worker goroutines.
	Workers int
	// QueueSize is the buffer of each worker's queue.
	QueueSize int
	// ClaimBatch caps how many requests one drain pass claims. Zero claims
	// everything queued.
	ClaimBatch int

	DequeueTimeout  time.Duration
	DrainInterval   time.Duration
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	MonitorInterval time.Duration
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       64,
		DequeueTimeout:  time.Second,
		DrainInterval:   100 * time.Millisecond,
		IdleTimeout:     30 * time.Minute,
		CleanupInterval: time.Minute,
		MonitorInterval: 5 * time.Minute,
	}
}

// Validate checks that every field is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if c.QueueSize < 1 {
		errs = append(errs, errors.New("queue size must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"dequeue timeout":  c.DequeueTimeout,
		"drain interval":   c.DrainInterval,
		"idle timeout":     c.IdleTimeout,
		"cleanup interval": c.CleanupInterval,
		"monitor interval": c.MonitorInterval,
	} {
		if d <= 0 {
			errs = append(errs, errors.New(name+" must be positive"))
		}
	}
	return errors.Join(errs...)
}
