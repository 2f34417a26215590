// Package search runs tenant-scoped similarity queries over documents
// and chunks and merges the two result streams into one ranked list.
package search

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/compounding-docs/cdocs/internal/embed"
	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/store"
)

const (
	// DefaultMinScore is the relevance floor for plain search.
	DefaultMinScore = 0.5
	// DefaultLimit is the result count when the caller does not choose.
	DefaultLimit = 10
	// MaxLimit is the server-side cap on requested result counts.
	MaxLimit = 50
)

// Hit is one search result: a whole document, or a single chunk that
// outranked its parent document.
type Hit struct {
	RelativePath   string  `json:"relative_path"`
	Title          string  `json:"title"`
	DocType        string  `json:"doc_type"`
	PromotionLevel string  `json:"promotion_level,omitempty"`
	Score          float64 `json:"score"`

	// IsChunk marks a hit carried by a chunk; HeaderPath and
	// ChunkIndex are only meaningful then.
	IsChunk    bool   `json:"is_chunk,omitempty"`
	HeaderPath string `json:"header_path,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`

	// Summary comes from the document frontmatter when present.
	Summary string `json:"summary,omitempty"`
}

// Request is one search invocation.
type Request struct {
	Query         string
	Filter        store.SearchFilter
	Limit         int
	MinScore      float64
	limitIsSet    bool
	minScoreIsSet bool
}

// WithMinScore sets an explicit relevance floor, allowing zero.
func (r Request) WithMinScore(min float64) Request {
	r.MinScore = min
	r.minScoreIsSet = true
	return r
}

// WithLimit sets an explicit result count. Zero means no results at
// all, as opposed to an unset limit which falls back to DefaultLimit.
func (r Request) WithLimit(limit int) Request {
	r.Limit = limit
	r.limitIsSet = true
	return r
}

func (r Request) withDefaults() Request {
	if !r.limitIsSet && r.Limit == 0 {
		r.Limit = DefaultLimit
	}
	if r.Limit < 0 {
		r.Limit = 0
	}
	if r.Limit > MaxLimit {
		r.Limit = MaxLimit
	}
	if !r.minScoreIsSet && r.MinScore == 0 {
		r.MinScore = DefaultMinScore
	}
	return r
}

// Service embeds queries and searches the store.
type Service struct {
	store    *store.Store
	embedder embed.Client
	logger   *slog.Logger
}

// New creates a search service.
func New(st *store.Store, embedder embed.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, embedder: embedder, logger: logger}
}

// Search embeds the query once, searches documents and chunks in
// parallel, and returns the merged ranked hits.
func (s *Service) Search(ctx context.Context, req Request) ([]Hit, error) {
	req = req.withDefaults()
	if req.Query == "" {
		return nil, cdocserr.New(cdocserr.TagInvalidArgument, "query must not be empty")
	}
	if req.Limit == 0 {
		return []Hit{}, nil
	}

	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	docs, chunks, err := s.searchBoth(ctx, vec, req.Filter, req.Limit*2)
	if err != nil {
		return nil, err
	}

	hits := Merge(docs, chunks, req.MinScore)
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}

	s.logger.Debug("search completed",
		slog.String("query", req.Query),
		slog.Int("results", len(hits)))
	return hits, nil
}

// searchBoth issues the document and chunk searches in parallel with a
// shared query vector.
func (s *Service) searchBoth(ctx context.Context, vec []float32, filter store.SearchFilter, topK int) ([]store.DocumentHit, []store.ChunkHit, error) {
	var (
		docs   []store.DocumentHit
		chunks []store.ChunkHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = s.store.SearchDocuments(gctx, vec, filter, topK)
		return err
	})
	g.Go(func() error {
		var err error
		chunks, err = s.store.SearchChunks(gctx, vec, filter, topK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return docs, chunks, nil
}

// Merge combines document and chunk hits into one list keyed by
// relative path. A chunk replaces its parent document when it scores
// higher, so a long document surfaces its best-matching section. Hits
// below minScore are dropped.
func Merge(docs []store.DocumentHit, chunks []store.ChunkHit, minScore float64) []Hit {
	byPath := make(map[string]Hit)

	for _, dh := range docs {
		if dh.Score < minScore {
			continue
		}
		byPath[dh.Document.RelativePath] = Hit{
			RelativePath:   dh.Document.RelativePath,
			Title:          dh.Document.Title,
			DocType:        dh.Document.DocType,
			PromotionLevel: dh.Document.PromotionLevel,
			Summary:        dh.Document.Summary,
			Score:          dh.Score,
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
		prev := byPath[path]
		byPath[path] = Hit{
			RelativePath:   path,
			Title:          ch.DocumentTitle,
			DocType:        ch.DocType,
			PromotionLevel: ch.Chunk.PromotionLevel,
			Summary:        prev.Summary,
			Score:          ch.Score,
			IsChunk:        true,
			HeaderPath:     ch.Chunk.HeaderPath,
			ChunkIndex:     ch.Chunk.Index,
		}
	}

	hits := make([]Hit, 0, len(byPath))
	for _, h := range byPath {
		hits = append(hits, h)
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].RelativePath < hits[b].RelativePath
	})
	return hits
}
