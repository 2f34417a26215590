// Package queue holds file-change events that could not be indexed
// while the embedding service was down, and drains them when it
// recovers. The queue lives only in memory.
package queue

import (
	"log/slog"
	"sync"
	"time"
)

// Change classifies a deferred file change.
type Change string

const (
	ChangeCreated  Change = "created"
	ChangeModified Change = "modified"
	ChangeDeleted  Change = "deleted"
	ChangeRenamed  Change = "renamed"
)

// Event is one deferred file change.
type Event struct {
	Path       string
	Change     Change
	DetectedAt time.Time
	Attempts   int
}

// Options configures a Deferred queue.
type Options struct {
	// Capacity caps the queue; on overflow the oldest entry is
	// evicted.
	Capacity int
	// MaxAttempts before an event is dropped.
	MaxAttempts int
	Logger      *slog.Logger
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.Capacity == 0 {
		o.Capacity = 1000
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Deferred is a bounded FIFO of deferred events.
type Deferred struct {
	mu     sync.Mutex
	items  []Event
	opts   Options
	logger *slog.Logger
}

// NewDeferred creates an empty queue.
func NewDeferred(opts Options) *Deferred {
	opts = opts.WithDefaults()
	return &Deferred{opts: opts, logger: opts.Logger}
}

// Push appends an event, evicting the oldest entry when full.
func (q *Deferred) Push(e Event) {
	if e.DetectedAt.IsZero() {
		e.DetectedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.opts.Capacity {
		evicted := q.items[0]
		q.items = q.items[1:]
		q.logger.Warn("deferred queue full, evicting oldest event",
			slog.String("path", evicted.Path),
			slog.String("change", string(evicted.Change)))
	}
	q.items = append(q.items, e)
}

// Requeue pushes a failed event back with its attempt count bumped.
// Returns false when the event exhausted its attempts and was dropped.
func (q *Deferred) Requeue(e Event) bool {
	e.Attempts++
	if e.Attempts >= q.opts.MaxAttempts {
		q.logger.Error("dropping deferred event after repeated failures",
			slog.String("path", e.Path),
			slog.String("change", string(e.Change)),
			slog.Int("attempts", e.Attempts))
		return false
	}
	q.Push(e)
	return true
}

// PushFront puts an event back at the head, preserving order when a
// drain is interrupted.
func (q *Deferred) PushFront(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Event{e}, q.items...)
}

// Pop removes and returns the oldest event.
func (q *Deferred) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

// Len returns the number of queued events.
func (q *Deferred) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
