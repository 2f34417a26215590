// Package watcher observes the docs root for markdown changes,
// debounces bursts, and dispatches index work. When the embedding
// service is down, changes go to the deferred queue instead of being
// lost.
package watcher

import (
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
	// OpRename indicates a file was renamed away; the old path is
	// gone.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event on one document.
type FileEvent struct {
	// Path is relative to the docs root, slash-separated.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiescence period before coalesced events
	// are emitted. Default: 500ms.
	DebounceWindow time.Duration

	// EventBufferSize is the size of the raw event channel buffer.
	// Default: 1000.
	EventBufferSize int

	// ExcludePatterns are path.Match globs, relative to the docs
	// root, that are never indexed.
	ExcludePatterns []string
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow == 0 {
		o.DebounceWindow = 500 * time.Millisecond
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = 1000
	}
	return o
}
