package watcher

import (
	"context"
	"log/slog"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/indexer"
	"github.com/compounding-docs/cdocs/internal/queue"
)

// Availability reports whether the embedding service can currently
// serve requests.
type Availability func() bool

// Dispatcher applies debounced file event batches to the index. While
// the embedding service is down, create and modify events are parked in
// the deferred queue instead; deletes never need embeddings and are
// applied immediately.
type Dispatcher struct {
	indexer   *indexer.Indexer
	deferred  *queue.Deferred
	available Availability
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(idx *indexer.Indexer, deferred *queue.Deferred, available Availability, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		indexer:   idx,
		deferred:  deferred,
		available: available,
		logger:    logger,
	}
}

// Run consumes batches until the channel closes or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, batches <-chan []FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			d.Dispatch(ctx, batch)
		}
	}
}

// Dispatch processes one batch of coalesced events.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []FileEvent) {
	for _, ev := range batch {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOne(ctx, ev)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev FileEvent) {
	switch ev.Operation {
	case OpDelete, OpRename:
		if err := d.indexer.Remove(ctx, ev.Path); err != nil {
			d.logger.Warn("failed to remove document from index",
				slog.String("path", ev.Path),
				slog.String("error", err.Error()))
		}
		return

	case OpCreate, OpModify:
		if !d.available() {
			d.park(ev)
			return
		}
		_, err := d.indexer.IndexFile(ctx, ev.Path)
		if err == nil {
			return
		}
		if cdocserr.TagOf(err) == cdocserr.TagEmbeddingUnavailable {
			// The service dropped between the availability check and the
			// embed call; the change is not lost.
			d.park(ev)
			return
		}
		d.logger.Warn("failed to index changed document",
			slog.String("path", ev.Path),
			slog.String("operation", ev.Operation.String()),
			slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) park(ev FileEvent) {
	d.deferred.Push(queue.Event{
		Path:       ev.Path,
		Change:     changeFor(ev.Operation),
		DetectedAt: ev.Timestamp,
	})
	d.logger.Info("embedding service unavailable, change deferred",
		slog.String("path", ev.Path),
		slog.String("operation", ev.Operation.String()),
		slog.Int("queued", d.deferred.Len()))
}

// HandleDeferred replays one queued event; it is the drain handler for
// the deferred queue.
func (d *Dispatcher) HandleDeferred(ctx context.Context, e queue.Event) error {
	if e.Change == queue.ChangeDeleted {
		return d.indexer.Remove(ctx, e.Path)
	}
	_, err := d.indexer.IndexFile(ctx, e.Path)
	return err
}

func changeFor(op Operation) queue.Change {
	switch op {
	case OpCreate:
		return queue.ChangeCreated
	case OpDelete:
		return queue.ChangeDeleted
	case OpRename:
		return queue.ChangeRenamed
	default:
		return queue.ChangeModified
	}
}
