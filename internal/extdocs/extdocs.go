// Package extdocs maintains a second, read-mostly collection of
// reference documents that live outside the project docs root. External
// documents carry no promotion levels and no link graph; they are
// re-synced at activation rather than watched.
package extdocs

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/compounding-docs/cdocs/internal/docparse"
	"github.com/compounding-docs/cdocs/internal/doctype"
	"github.com/compounding-docs/cdocs/internal/embed"
	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/indexer"
	"github.com/compounding-docs/cdocs/internal/rag"
	"github.com/compounding-docs/cdocs/internal/search"
	"github.com/compounding-docs/cdocs/internal/store"
	"github.com/compounding-docs/cdocs/internal/tenant"
)

// Collection is the external-docs index with its own store.
type Collection struct {
	store     *store.Store
	indexer   *indexer.Indexer
	search    *search.Service
	retriever *rag.Retriever
	key       tenant.Key
	docsPath  string
	logger    *slog.Logger
}

// Options configures an external collection.
type Options struct {
	// DocsPath is the external documents directory.
	DocsPath string
	// IndexDir is where the collection persists its store; empty keeps
	// it in memory.
	IndexDir string
	// Concurrency bounds the sync's parallel indexing.
	Concurrency int
	Logger      *slog.Logger
}

// Open creates the collection and its backing store. External files
// are parsed leniently: missing frontmatter falls back to the first
// heading or the filename.
func Open(key tenant.Key, embedder embed.Client, opts Options) (*Collection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(opts.IndexDir, store.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	parser := docparse.NewParser(doctype.NewRegistry(nil), docparse.Options{
		Strict: false,
		Logger: logger,
	})
	idx := indexer.New(st, parser, embedder, nil, key, opts.DocsPath,
		indexer.Options{Concurrency: opts.Concurrency, Logger: logger})

	return &Collection{
		store:     st,
		indexer:   idx,
		search:    search.New(st, embedder, logger),
		retriever: rag.New(st, embedder, nil, logger),
		key:       key,
		docsPath:  opts.DocsPath,
		logger:    logger,
	}, nil
}

// Sync walks the external directory and indexes every markdown file;
// unchanged files are skipped by content hash. Documents whose files
// disappeared are removed.
func (c *Collection) Sync(ctx context.Context) (indexer.Summary, error) {
	onDisk := make(map[string]bool)
	var paths []string
	err := filepath.WalkDir(c.docsPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != c.docsPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(c.docsPath, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.ToLower(filepath.Ext(rel)) != ".md" {
			return nil
		}
		onDisk[rel] = true
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return indexer.Summary{}, cdocserr.Wrap(cdocserr.TagFileSystemError,
			"failed to scan external docs directory", err)
	}

	entries, err := c.store.List(ctx, c.key)
	if err != nil {
		return indexer.Summary{}, err
	}
	for _, e := range entries {
		if !onDisk[e.RelativePath] {
			if err := c.indexer.Remove(ctx, e.RelativePath); err != nil {
				c.logger.Warn("failed to remove stale external document",
					slog.String("path", e.RelativePath),
					slog.String("error", err.Error()))
			}
		}
	}

	return c.indexer.IndexAll(ctx, paths)
}

// Search runs a similarity search over the external collection.
// Promotion-level filters do not apply to external documents.
func (c *Collection) Search(ctx context.Context, req search.Request) ([]search.Hit, error) {
	req.Filter.Tenant = c.key
	req.Filter.PromotionLevels = nil
	hits, err := c.search.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].PromotionLevel = ""
	}
	return hits, nil
}

// Retrieve assembles a RAG context set from the external collection.
// Critical prepend and link expansion are promotion and graph features
// and stay off here.
func (c *Collection) Retrieve(ctx context.Context, query string, filter store.SearchFilter, opts rag.Options) ([]rag.Source, error) {
	filter.Tenant = c.key
	filter.PromotionLevels = nil
	opts.IncludeCritical = false
	opts.LinkExpansion = false
	sources, err := c.retriever.Retrieve(ctx, query, filter, opts)
	if err != nil {
		return nil, err
	}
	for i := range sources {
		sources[i].PromotionLevel = ""
	}
	return sources, nil
}

// Count returns the number of external documents indexed.
func (c *Collection) Count(ctx context.Context) (int, error) {
	entries, err := c.store.List(ctx, c.key)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Close releases the backing store.
func (c *Collection) Close() error {
	return c.store.Close()
}
