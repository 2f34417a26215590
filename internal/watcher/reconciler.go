package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/indexer"
	"github.com/compounding-docs/cdocs/internal/store"
	"github.com/compounding-docs/cdocs/internal/tenant"
)

// Diff is the result of comparing the docs root against the index.
type Diff struct {
	// Created are on-disk documents the index has never seen.
	Created []string
	// Modified are documents whose content hash differs from the index.
	Modified []string
	// Deleted are indexed documents no longer on disk.
	Deleted []string
}

// Empty reports whether nothing changed while the watcher was off.
func (d Diff) Empty() bool {
	return len(d.Created) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Reconciler catches up the index with changes that happened while the
// server was not running. It runs at activation, before the watcher
// starts.
type Reconciler struct {
	store    *store.Store
	indexer  *indexer.Indexer
	key      tenant.Key
	docsRoot string
	exclude  []string
	logger   *slog.Logger
}

// NewReconciler creates a reconciler for one tenant's docs root.
func NewReconciler(st *store.Store, idx *indexer.Indexer, key tenant.Key,
	docsRoot string, exclude []string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    st,
		indexer:  idx,
		key:      key,
		docsRoot: docsRoot,
		exclude:  exclude,
		logger:   logger,
	}
}

// Scan walks the docs root and returns the markdown files found,
// keyed by slash-relative path, with their content hashes.
func (r *Reconciler) Scan() (map[string]string, error) {
	found := make(map[string]string)
	err := filepath.WalkDir(r.docsRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != r.docsRoot && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(r.docsRoot, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !IsMarkdown(rel) || MatchesAny(r.exclude, rel) {
			return nil
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			r.logger.Warn("skipping unreadable document during scan",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			return nil
		}
		sum := sha256.Sum256(raw)
		found[rel] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagFileSystemError, "failed to scan docs directory", err)
	}
	return found, nil
}

// DiffIndex compares the scan against the indexed documents.
func (r *Reconciler) DiffIndex(ctx context.Context, onDisk map[string]string) (Diff, error) {
	entries, err := r.store.List(ctx, r.key)
	if err != nil {
		return Diff{}, err
	}

	indexed := make(map[string]string, len(entries))
	for _, e := range entries {
		indexed[e.RelativePath] = e.ContentHash
	}

	var diff Diff
	for rel, hash := range onDisk {
		prev, ok := indexed[rel]
		switch {
		case !ok:
			diff.Created = append(diff.Created, rel)
		case prev != hash:
			diff.Modified = append(diff.Modified, rel)
		}
	}
	for rel := range indexed {
		if _, ok := onDisk[rel]; !ok {
			diff.Deleted = append(diff.Deleted, rel)
		}
	}

	sort.Strings(diff.Created)
	sort.Strings(diff.Modified)
	sort.Strings(diff.Deleted)
	return diff, nil
}

// Reconcile scans, diffs, and applies the changes. Returns the summary
// of applied index work.
func (r *Reconciler) Reconcile(ctx context.Context) (indexer.Summary, error) {
	onDisk, err := r.Scan()
	if err != nil {
		return indexer.Summary{}, err
	}
	diff, err := r.DiffIndex(ctx, onDisk)
	if err != nil {
		return indexer.Summary{}, err
	}
	if diff.Empty() {
		return indexer.Summary{}, nil
	}

	r.logger.Info("reconciling offline changes",
		slog.Int("created", len(diff.Created)),
		slog.Int("modified", len(diff.Modified)),
		slog.Int("deleted", len(diff.Deleted)))

	for _, rel := range diff.Deleted {
		if err := r.indexer.Remove(ctx, rel); err != nil {
			r.logger.Warn("failed to remove stale document",
				slog.String("path", rel),
				slog.String("error", err.Error()))
		}
	}

	paths := append(append([]string{}, diff.Created...), diff.Modified...)
	return r.indexer.IndexAll(ctx, paths)
}
