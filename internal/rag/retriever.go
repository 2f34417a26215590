// Package rag assembles ranked context sets for retrieval-augmented
// generation: critical documents first, then the most relevant
// documents and chunks, optionally expanded along the link graph.
package rag

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/compounding-docs/cdocs/internal/doctype"
	"github.com/compounding-docs/cdocs/internal/embed"
	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/linkgraph"
	"github.com/compounding-docs/cdocs/internal/store"
	"github.com/compounding-docs/cdocs/internal/tenant"
)

const (
	// DefaultMinScore is the relevance floor for RAG retrieval.
	DefaultMinScore = 0.7
	// DefaultMaxSources bounds the primary context set.
	DefaultMaxSources = 3
)

// Options controls one retrieval.
type Options struct {
	// MaxSources bounds the primary context set (default 3).
	MaxSources int

	// MinScore is the relevance floor for non-critical sources
	// (default 0.7).
	MinScore float64

	// IncludeCritical prepends critical-level documents regardless of
	// their relevance score.
	IncludeCritical bool

	// LinkExpansion appends documents reachable from retained sources
	// through the link graph.
	LinkExpansion bool
	// MaxLinkedDocs is the overall budget for link-expanded sources
	// (default 3); they do not count against MaxSources.
	MaxLinkedDocs int
	// MaxLinkDepth bounds how far the expansion follows links
	// (default 2).
	MaxLinkDepth int
	// MaxTraversalNodes caps the nodes visited per expansion walk
	// (default 10).
	MaxTraversalNodes int
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.MaxSources <= 0 {
		o.MaxSources = DefaultMaxSources
	}
	if o.MinScore <= 0 {
		o.MinScore = DefaultMinScore
	}
	if o.MaxLinkedDocs <= 0 {
		o.MaxLinkedDocs = 3
	}
	if o.MaxLinkDepth <= 0 {
		o.MaxLinkDepth = 2
	}
	if o.MaxTraversalNodes <= 0 {
		o.MaxTraversalNodes = 10
	}
	return o
}

// Source is one entry of the assembled context set.
type Source struct {
	RelativePath   string  `json:"relative_path"`
	Title          string  `json:"title"`
	DocType        string  `json:"doc_type"`
	PromotionLevel string  `json:"promotion_level,omitempty"`
	Score          float64 `json:"score"`

	// IsChunk marks a source carried by one section of a document.
	IsChunk    bool   `json:"is_chunk,omitempty"`
	HeaderPath string `json:"header_path,omitempty"`

	// Critical marks a source included by promotion level rather than
	// relevance.
	Critical bool `json:"critical,omitempty"`

	// LinkedFrom names the retained source this document was reached
	// from, when it entered through link expansion.
	LinkedFrom string `json:"linked_from,omitempty"`

	// Content is the text handed to the generator.
	Content string `json:"content"`
}

// Retriever assembles context sets from the store and link graph.
type Retriever struct {
	store    *store.Store
	embedder embed.Client
	graph    *linkgraph.Graph
	logger   *slog.Logger
}

// New creates a retriever. graph may be nil; link expansion is then a
// no-op (external docs).
func New(st *store.Store, embedder embed.Client, graph *linkgraph.Graph, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: st, embedder: embedder, graph: graph, logger: logger}
}

// Retrieve builds the ordered context set for one query.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter store.SearchFilter, opts Options) ([]Source, error) {
	opts = opts.WithDefaults()
	if query == "" {
		return nil, cdocserr.New(cdocserr.TagInvalidArgument, "query must not be empty")
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	included := make(map[string]bool)
	var critical, relevant []Source

	if opts.IncludeCritical {
		critFilter := filter
		critFilter.PromotionLevels = []string{doctype.LevelCritical}
		merged, err := r.searchMerged(ctx, vec, critFilter, 0, opts.MaxSources)
		if err != nil {
			return nil, err
		}
		for _, src := range merged {
			if len(critical) == opts.MaxSources {
				break
			}
			src.Critical = true
			critical = append(critical, src)
			included[src.RelativePath] = true
		}
	}

	merged, err := r.searchMerged(ctx, vec, filter, opts.MinScore, opts.MaxSources)
	if err != nil {
		return nil, err
	}
	for _, src := range merged {
		if len(critical)+len(relevant) == opts.MaxSources {
			break
		}
		if included[src.RelativePath] {
			continue
		}
		relevant = append(relevant, src)
		included[src.RelativePath] = true
	}

	sources := append(critical, relevant...)
	if opts.LinkExpansion && r.graph != nil {
		sources = append(sources, r.expandLinks(ctx, sources, included, filter.Tenant, opts)...)
	}

	r.logger.Debug("context set assembled",
		slog.Int("critical", len(critical)),
		slog.Int("relevant", len(relevant)),
		slog.Int("total", len(sources)))
	return sources, nil
}

// searchMerged runs the document and chunk searches in parallel and
// merges them: a chunk replaces its parent document when it scores
// higher. Results are score-ordered and floor-filtered.
func (r *Retriever) searchMerged(ctx context.Context, vec []float32, filter store.SearchFilter, minScore float64, limit int) ([]Source, error) {
	var (
		docs   []store.DocumentHit
		chunks []store.ChunkHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = r.store.SearchDocuments(gctx, vec, filter, limit*2)
		return err
	})
	g.Go(func() error {
		var err error
		chunks, err = r.store.SearchChunks(gctx, vec, filter, limit*2)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byPath := make(map[string]Source)
	for _, dh := range docs {
		if dh.Score < minScore {
			continue
		}
		byPath[dh.Document.RelativePath] = Source{
			RelativePath:   dh.Document.RelativePath,
			Title:          dh.Document.Title,
			DocType:        dh.Document.DocType,
			PromotionLevel: dh.Document.PromotionLevel,
			Score:          dh.Score,
			Content:        dh.Document.Content,
		}
	}
	for _, ch := range chunks {
		if ch.Score < minScore {
			continue
		}
		path := ch.Chunk.RelativePath
		if existing, ok := byPath[path]; ok && existing.Score >= ch.Score {
			continue
		}
		byPath[path] = Source{
			RelativePath:   path,
			Title:          ch.DocumentTitle,
			DocType:        ch.DocType,
			PromotionLevel: ch.Chunk.PromotionLevel,
			Score:          ch.Score,
			IsChunk:        true,
			HeaderPath:     ch.Chunk.HeaderPath,
			Content:        ch.Chunk.Text,
		}
	}

	sources := make([]Source, 0, len(byPath))
	for _, src := range byPath {
		sources = append(sources, src)
	}
	sort.SliceStable(sources, func(a, b int) bool {
		if sources[a].Score != sources[b].Score {
			return sources[a].Score > sources[b].Score
		}
		return sources[a].RelativePath < sources[b].RelativePath
	})
	return sources, nil
}

// expandLinks walks the link graph outward from the retained sources
// and fetches linked documents not already present, within a shared
// budget.
func (r *Retriever) expandLinks(ctx context.Context, retained []Source, included map[string]bool, key tenant.Key, opts Options) []Source {
	var expanded []Source
	for _, src := range retained {
		if len(expanded) == opts.MaxLinkedDocs {
			break
		}
		for _, target := range r.graph.Traverse(src.RelativePath, opts.MaxLinkDepth, opts.MaxTraversalNodes) {
			if len(expanded) == opts.MaxLinkedDocs {
				break
			}
			if included[target] {
				continue
			}
			doc, err := r.store.GetDocument(ctx, key, target)
			if err != nil || doc == nil {
				continue
			}
			included[target] = true
			expanded = append(expanded, Source{
				RelativePath:   doc.RelativePath,
				Title:          doc.Title,
				DocType:        doc.DocType,
				PromotionLevel: doc.PromotionLevel,
				LinkedFrom:     src.RelativePath,
				Content:        doc.Content,
			})
		}
	}
	return expanded
}
