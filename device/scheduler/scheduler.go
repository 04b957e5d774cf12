// Package scheduler provides the single-consumer task queue that
// serializes every mutation of the Route Table and Discovery State.
// Discovery, forwarding, and any periodic task started with PostEvery post closures here
// instead of touching storage directly, so at most one logical task is
// ever in flight.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// DefaultQueueSize is the default buffered capacity of the task channel.
const DefaultQueueSize = 256

// Config holds Scheduler construction parameters.
type Config struct {
	// QueueSize is the buffered task channel capacity. Defaults to
	// DefaultQueueSize.
	QueueSize int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Scheduler runs posted tasks one at a time on a single consumer
// goroutine reading off a buffered task channel, with an optional
// ticker-driven goroutine for periodic work.
type Scheduler struct {
	tasks chan func()
	log   *slog.Logger
	done  chan struct{}
}

// New creates a Scheduler. Call Start to begin processing tasks.
func New(cfg Config) *Scheduler {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		tasks: make(chan func(), cfg.QueueSize),
		log:   cfg.Logger.WithGroup("scheduler"),
		done:  make(chan struct{}),
	}
}

// Start runs the consumer loop until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.tasks:
			task()
		}
	}
}

// Post enqueues task for serialized execution. It blocks if the queue is
// full, applying backpressure to the caller rather than dropping work.
// Returns ctx.Err() if ctx is canceled before the task is enqueued.
func (s *Scheduler) Post(ctx context.Context, task func()) error {
	select {
	case s.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PostEvery posts a no-argument task on a fixed interval until ctx is
// canceled, for optional periodic work like TTL sweeps (spec.md §4.5:
// "Timer tasks ... are posted on the same queue"). The returned function
// blocks until the ticking goroutine has exited.
func (s *Scheduler) PostEvery(ctx context.Context, interval time.Duration, task func()) func() {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Post(ctx, task); err != nil {
					return
				}
			}
		}
	}()
	return func() { <-stopped }
}
