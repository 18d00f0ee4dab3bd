// Package events delivers JobStatusChanged notifications to external sinks.
//
// Delivery is at-most-once. The engine hands events to the Bus after commit;
// when the queue is full the event is dropped and the commit is unaffected.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"brandline/internal/domain"
	"brandline/internal/metrics"
)

const (
	defaultQueueSize    = 256
	defaultSinkDeadline = 10 * time.Second
)

// Sink receives every event taken off the queue.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt domain.JobStatusChanged) error
}

type Bus struct {
	queue  chan domain.JobStatusChanged
	sinks  []Sink
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	group   *errgroup.Group
	cancel  context.CancelFunc
	dropped atomic.Int64
}

func NewBus(size int, logger *slog.Logger, sinks ...Sink) *Bus {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queue:  make(chan domain.JobStatusChanged, size),
		sinks:  sinks,
		logger: logger,
	}
}

// Start launches the delivery worker. It stops when ctx ends or Close is called.
func (b *Bus) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	b.mu.Lock()
	b.group, b.cancel = g, cancel
	b.mu.Unlock()
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case evt, ok := <-b.queue:
				if !ok {
					return nil
				}
				b.deliver(gctx, evt)
			}
		}
	})
}

// Notify enqueues without blocking.
func (b *Bus) Notify(evt domain.JobStatusChanged) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- evt:
	default:
		b.dropped.Add(1)
		metrics.Notification("bus", "dropped")
		b.logger.Warn("notification dropped, queue full", "job_id", evt.JobID, "status", evt.NewStatus)
	}
}

// Dropped reports how many events were discarded on a full queue.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting events, drains the queue and waits for the worker.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	g, cancel := b.group, b.cancel
	b.mu.Unlock()
	if g == nil {
		return nil
	}
	err := g.Wait()
	cancel()
	return err
}

// deliver fans the event out to every sink concurrently. Failures are logged
// and counted, never returned.
func (b *Bus) deliver(ctx context.Context, evt domain.JobStatusChanged) {
	ctx, cancel := context.WithTimeout(ctx, defaultSinkDeadline)
	defer cancel()
	var g errgroup.Group
	for _, sink := range b.sinks {
		g.Go(func() error {
			if err := sink.Deliver(ctx, evt); err != nil {
				metrics.Notification(sink.Name(), "failed")
				b.logger.Warn("notification failed", "sink", sink.Name(), "job_id", evt.JobID, "error", err)
				return nil
			}
			metrics.Notification(sink.Name(), "delivered")
			return nil
		})
	}
	_ = g.Wait()
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(ctx context.Context, evt domain.JobStatusChanged) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"job_id", evt.JobID,
		"action", evt.Action,
		"from", evt.PreviousStatus,
		"to", evt.NewStatus,
		"actor", evt.ActorID,
		"at", evt.Timestamp,
	}
	if evt.AssigneeID != nil {
		attrs = append(attrs, "assignee", *evt.AssigneeID)
	}
	logger.InfoContext(ctx, "job status changed", attrs...)
	return nil
}
