// Package indexer brings the vector store into agreement with the
// files on disk: read, hash, parse, embed, upsert, relink.
package indexer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/compounding-docs/cdocs/internal/docparse"
	"github.com/compounding-docs/cdocs/internal/embed"
	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/linkgraph"
	"github.com/compounding-docs/cdocs/internal/store"
	"github.com/compounding-docs/cdocs/internal/tenant"
)

// Result describes the outcome of indexing one file.
type Result int

const (
	// ResultIndexed means the document was inserted or replaced.
	ResultIndexed Result = iota
	// ResultSkipped means the stored content hash already matches.
	ResultSkipped
)

func (r Result) String() string {
	if r == ResultSkipped {
		return "skipped"
	}
	return "indexed"
}

// Options configures an Indexer.
type Options struct {
	// Concurrency bounds parallel document indexing in IndexAll.
	Concurrency int
	Logger      *slog.Logger
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.Concurrency == 0 {
		o.Concurrency = 4
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Indexer indexes one tenant's docs root.
type Indexer struct {
	store    *store.Store
	parser   *docparse.Parser
	embedder embed.Client
	graph    *linkgraph.Graph

	key      tenant.Key
	docsRoot string
	opts     Options
}

// New creates an indexer. graph may be nil when link tracking is not
// wanted (external docs).
func New(st *store.Store, parser *docparse.Parser, embedder embed.Client,
	graph *linkgraph.Graph, key tenant.Key, docsRoot string, opts Options) *Indexer {
	return &Indexer{
		store:    st,
		parser:   parser,
		embedder: embedder,
		graph:    graph,
		key:      key,
		docsRoot: docsRoot,
		opts:     opts.WithDefaults(),
	}
}

// IndexFile indexes one file identified by its docs-root-relative
// path. Unchanged content is skipped; on any failure the store is left
// untouched.
func (i *Indexer) IndexFile(ctx context.Context, relPath string) (Result, error) {
	abs, err := i.resolve(relPath)
	if err != nil {
		return 0, err
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return 0, cdocserr.Wrap(cdocserr.TagFileSystemError, "failed to read document", err).
			WithDetail("path", relPath)
	}

	hash := docparse.HashContent(raw)
	existing, err := i.store.GetDocument(ctx, i.key, relPath)
	if err != nil {
		return 0, err
	}
	if existing != nil && existing.ContentHash == hash {
		return ResultSkipped, nil
	}

	parsed, err := i.parser.Parse(relPath, raw)
	if err != nil {
		return 0, err
	}

	doc, chunks, err := i.embedAll(ctx, relPath, parsed)
	if err != nil {
		return 0, err
	}

	if err := i.store.Upsert(ctx, doc, chunks); err != nil {
		return 0, err
	}
	if i.graph != nil {
		i.graph.ReplaceOutEdges(relPath, parsed.Links)
	}

	i.opts.Logger.Debug("document indexed",
		slog.String("path", relPath),
		slog.String("doc_type", parsed.DocType),
		slog.Int("chunks", len(chunks)))
	return ResultIndexed, nil
}

// embedAll generates the document and chunk embeddings sequentially,
// then assembles the records. Nothing is written on failure.
func (i *Indexer) embedAll(ctx context.Context, relPath string, parsed *docparse.Parsed) (*store.Document, []store.Chunk, error) {
	docVec, err := i.embedder.Embed(ctx, embeddingInput(parsed.Title, parsed.Body))
	if err != nil {
		return nil, nil, err
	}

	docID := store.DocumentID(i.key, relPath)
	doc := &store.Document{
		ID:             docID,
		Tenant:         i.key,
		RelativePath:   relPath,
		DocType:        parsed.DocType,
		Title:          parsed.Title,
		Summary:        parsed.Summary,
		Frontmatter:    parsed.Frontmatter,
		PromotionLevel: parsed.PromotionLevel,
		Content:        parsed.Body,
		ContentHash:    parsed.ContentHash,
		CharCount:      utf8.RuneCountInString(parsed.Body),
		Links:          parsed.Links,
		Embedding:      docVec,
		UpdatedAt:      time.Now(),
	}

	chunks := make([]store.Chunk, 0, len(parsed.Chunks))
	for _, pc := range parsed.Chunks {
		vec, err := i.embedder.Embed(ctx, pc.Text)
		if err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, store.Chunk{
			ID:             store.ChunkID(docID, pc.Index),
			DocumentID:     docID,
			Index:          pc.Index,
			Tenant:         i.key,
			RelativePath:   relPath,
			HeaderPath:     pc.HeaderPath,
			Text:           pc.Text,
			PromotionLevel: parsed.PromotionLevel,
			Embedding:      vec,
		})
	}
	return doc, chunks, nil
}

// Remove deletes a document from the store and the link graph.
func (i *Indexer) Remove(ctx context.Context, relPath string) error {
	if err := i.store.Delete(ctx, i.key, relPath); err != nil {
		return err
	}
	if i.graph != nil {
		i.graph.RemoveNode(relPath)
	}
	return nil
}

// Summary counts the outcomes of a batch index.
type Summary struct {
	Indexed int
	Skipped int
	Failed  int
}

// IndexAll indexes many files with bounded parallelism. Per-file
// failures are logged and counted, not fatal; only context
// cancellation aborts the batch.
func (i *Indexer) IndexAll(ctx context.Context, relPaths []string) (Summary, error) {
	var (
		summary Summary
		results = make([]Result, len(relPaths))
		errs    = make([]error, len(relPaths))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.opts.Concurrency)
	for idx, relPath := range relPaths {
		g.Go(func() error {
			results[idx], errs[idx] = i.IndexFile(gctx, relPath)
			if ce := cdocserr.FromContext(errs[idx]); ce != nil {
				return ce
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	for idx := range relPaths {
		switch {
		case errs[idx] != nil:
			summary.Failed++
			i.opts.Logger.Error("failed to index document",
				slog.String("path", relPaths[idx]),
				slog.String("tag", string(cdocserr.TagOf(errs[idx]))),
				slog.String("error", errs[idx].Error()))
		case results[idx] == ResultSkipped:
			summary.Skipped++
		default:
			summary.Indexed++
		}
	}
	return summary, nil
}

// resolve maps a docs-root-relative path to an absolute path, rejecting
// traversal outside the root.
func (i *Indexer) resolve(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", cdocserr.Newf(cdocserr.TagFileSystemError, "path escapes the docs root: %s", relPath)
	}
	return filepath.Join(i.docsRoot, clean), nil
}

// embeddingInput is the deterministic document embedding text.
func embeddingInput(title, body string) string {
	if title == "" {
		return body
	}
	return title + "\n\n" + body
}
