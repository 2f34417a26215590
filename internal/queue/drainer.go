package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one deferred event.
type Handler func(ctx context.Context, e Event) error

// Drainer replays deferred events once the embedding service is back.
// Only one drain runs at a time; concurrent triggers are ignored.
type Drainer struct {
	queue     *Deferred
	handler   Handler
	available func() bool
	pause     time.Duration
	logger    *slog.Logger

	// draining admits a single drain loop.
	draining sync.Mutex
}

// DrainerOptions configures a Drainer.
type DrainerOptions struct {
	// Pause between events keeps the drain from saturating the
	// embedding service right after recovery (default 100ms).
	Pause  time.Duration
	Logger *slog.Logger
}

// NewDrainer creates a drainer. available gates each event; when it
// turns false mid-drain the remaining events stay queued.
func NewDrainer(q *Deferred, handler Handler, available func() bool, opts DrainerOptions) *Drainer {
	if opts.Pause == 0 {
		opts.Pause = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Drainer{
		queue:     q,
		handler:   handler,
		available: available,
		pause:     opts.Pause,
		logger:    opts.Logger,
	}
}

// Drain processes queued events until the queue empties, the service
// becomes unavailable again, or ctx is cancelled. A drain already in
// flight makes this call a no-op.
func (d *Drainer) Drain(ctx context.Context) {
	if !d.draining.TryLock() {
		return
	}
	defer d.draining.Unlock()

	processed := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e, ok := d.queue.Pop()
		if !ok {
			break
		}

		if !d.available() {
			// Service went down again; keep the event for the next
			// recovery.
			d.queue.PushFront(e)
			d.logger.Info("drain paused, embedding service unavailable again",
				slog.Int("processed", processed),
				slog.Int("remaining", d.queue.Len()))
			return
		}

		if err := d.handler(ctx, e); err != nil {
			d.queue.Requeue(e)
			d.logger.Warn("deferred event failed during drain",
				slog.String("path", e.Path),
				slog.String("error", err.Error()))
		} else {
			processed++
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.pause):
		}
	}

	if processed > 0 {
		d.logger.Info("deferred queue drained", slog.Int("processed", processed))
	}
}

// Run drains whenever recovered signals fire, until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context, recovered <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-recovered:
			if !ok {
				return
			}
			d.Drain(ctx)
		}
	}
}
