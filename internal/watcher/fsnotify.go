package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

// FSWatcher watches the docs root recursively via fsnotify and emits
// debounced batches of markdown file events.
type FSWatcher struct {
	opts      Options
	root      string
	fw        *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	logger    *slog.Logger
	stopped   chan struct{}
}

// NewFSWatcher creates a watcher for the given docs root.
func NewFSWatcher(root string, opts Options, logger *slog.Logger) *FSWatcher {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &FSWatcher{
		opts:      opts,
		root:      root,
		debouncer: NewDebouncer(opts.DebounceWindow),
		errors:    make(chan error, 16),
		logger:    logger,
		stopped:   make(chan struct{}),
	}
}

// Start begins watching. It returns once the watch is established; the
// event loop runs until Stop or context cancellation.
func (w *FSWatcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return cdocserr.Wrap(cdocserr.TagFileSystemError, "failed to create file watcher", err)
	}
	w.fw = fw

	if err := w.addRecursive(w.root); err != nil {
		_ = fw.Close()
		return err
	}

	go w.loop(ctx)
	return nil
}

// Events returns debounced event batches.
func (w *FSWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors.
func (w *FSWatcher) Errors() <-chan error {
	return w.errors
}

// Stop shuts the watcher down. Safe to call multiple times.
func (w *FSWatcher) Stop() {
	select {
	case <-w.stopped:
		return
	default:
		close(w.stopped)
	}
	if w.fw != nil {
		_ = w.fw.Close()
	}
	w.debouncer.Stop()
}

func (w *FSWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.stopped:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	// New directories must be added to the watch before their
	// contents start changing.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()))
			}
			return
		}
	}

	rel, ok := w.relPath(ev.Name)
	if !ok || w.shouldIgnore(rel) {
		return
	}

	var op Operation
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = OpCreate
	case ev.Op.Has(fsnotify.Write):
		op = OpModify
	case ev.Op.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Op.Has(fsnotify.Rename):
		// fsnotify reports the old name; the path is gone.
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(FileEvent{Path: rel, Operation: op, Timestamp: time.Now()})
}

// addRecursive watches dir and every subdirectory.
func (w *FSWatcher) addRecursive(dir string) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); p != dir && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		return w.fw.Add(p)
	})
	if err != nil {
		return cdocserr.Wrap(cdocserr.TagFileSystemError, "failed to watch directory tree", err)
	}
	return nil
}

// relPath converts an absolute event path to a slash-separated path
// relative to the docs root.
func (w *FSWatcher) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// shouldIgnore filters out non-markdown files, hidden paths, and
// configured exclusions.
func (w *FSWatcher) shouldIgnore(rel string) bool {
	if !IsMarkdown(rel) {
		return true
	}
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return MatchesAny(w.opts.ExcludePatterns, rel)
}

// IsMarkdown reports whether a path names a markdown document.
func IsMarkdown(rel string) bool {
	switch strings.ToLower(path.Ext(rel)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// MatchesAny reports whether rel matches any of the glob patterns.
// A pattern also matches everything under a directory it names.
func MatchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, path.Base(rel)); ok {
			return true
		}
		if strings.HasPrefix(rel, strings.TrimSuffix(pattern, "/")+"/") {
			return true
		}
	}
	return false
}
