// Package notify delivers notification jobs to the external channel
// under its rate limit. A single worker drains an unbounded FIFO queue
// at a fixed cadence; a failed delivery is requeued at the front at most
// once, then dropped, so the queue cannot grow without bound under a
// sustained outage.
package notify

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInterval is the delivery cadence: one job per second.
const DefaultInterval = time.Second

// Job is one queued notification.
type Job struct {
	ID      string
	Content string

	// EventID links the job back to its domain event for dedup marking
	// after successful delivery. Empty for jobs without an event.
	EventID string

	retried bool
}

// Channel is the black-box, rate-limited delivery primitive.
type Channel interface {
	Deliver(ctx context.Context, content string) error
}

// Marker records a successfully notified event id.
type Marker interface {
	Mark(ctx context.Context, id string) error
}

// Dispatcher owns the delivery queue and its single worker.
type Dispatcher struct {
	mu    sync.Mutex
	queue *list.List

	channel  Channel
	marker   Marker
	interval time.Duration
	logger   *slog.Logger

	done chan struct{}
}

// NewDispatcher creates a dispatcher delivering through channel at the
// given cadence. marker may be nil when no dedup marking is wanted.
func NewDispatcher(channel Channel, marker Marker, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:    list.New(),
		channel:  channel,
		marker:   marker,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Enqueue appends job to the queue. It never blocks; queue growth is
// limited by the requeue-once policy.
func (d *Dispatcher) Enqueue(job Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	d.mu.Lock()
	d.queue.PushBack(job)
	depth := d.queue.Len()
	d.mu.Unlock()

	queueDepth.Set(float64(depth))
}

// Len returns the number of waiting jobs.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// Run drains the queue until ctx is cancelled. One delivery attempt is
// made per tick so the external channel's rate limit is respected even
// across retries. Every failure is handled per-job; nothing kills the
// worker.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.deliverNext(ctx)
		}
	}
}

// Done is closed when the worker has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) deliverNext(ctx context.Context) {
	d.mu.Lock()
	front := d.queue.Front()
	if front == nil {
		d.mu.Unlock()
		return
	}
	job := d.queue.Remove(front).(Job)
	d.mu.Unlock()

	// A cancellation mid-call must not tear the delivery or the dedup
	// mark; the channel's own client timeout bounds the detached call.
	callCtx := context.WithoutCancel(ctx)

	err := d.channel.Deliver(callCtx, job.Content)
	if err != nil {
		d.handleFailure(ctx, job, err)
		d.publishDepth()
		return
	}

	deliveredTotal.Inc()
	d.logger.Debug("notification delivered",
		slog.String("job_id", job.ID),
		slog.String("event_id", job.EventID))

	if job.EventID != "" && d.marker != nil {
		if markErr := d.marker.Mark(callCtx, job.EventID); markErr != nil {
			d.logger.Error("failed to mark delivered event",
				slog.String("event_id", job.EventID),
				slog.String("error", markErr.Error()))
		}
	}
	d.publishDepth()
}

func (d *Dispatcher) handleFailure(ctx context.Context, job Job, err error) {
	if ctx.Err() != nil {
		// Shutting down; put the job back untouched so nothing is
		// counted as dropped.
		d.mu.Lock()
		d.queue.PushFront(job)
		d.mu.Unlock()
		return
	}

	if job.retried {
		droppedTotal.Inc()
		d.logger.Error("notification dropped after retry",
			slog.String("job_id", job.ID),
			slog.String("event_id", job.EventID),
			slog.String("error", err.Error()))
		return
	}

	job.retried = true
	retriedTotal.Inc()
	d.logger.Warn("delivery failed, requeueing once",
		slog.String("job_id", job.ID),
		slog.String("error", err.Error()))

	// Front, not back: the retried job keeps its chronological slot.
	d.mu.Lock()
	d.queue.PushFront(job)
	d.mu.Unlock()
}

func (d *Dispatcher) publishDepth() {
	d.mu.Lock()
	depth := d.queue.Len()
	d.mu.Unlock()
	queueDepth.Set(float64(depth))
}
