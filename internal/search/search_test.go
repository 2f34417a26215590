package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/store"
	"github.com/compounding-docs/cdocs/internal/tenant"
)

var testKey = tenant.Key{Project: "acme", Branch: "main", PathHash: "0123456789abcdef"}

// axisVec returns a unit vector along one axis; distinct axes are
// orthogonal, giving a similarity score of 0.5 between them.
func axisVec(axis int) []float32 {
	v := make([]float32, store.Dimensions)
	v[axis%store.Dimensions] = 1
	return v
}

// mixVec leans mostly toward one axis with a small component on
// another, giving a score strictly between 0.5 and 1.
func mixVec(major, minor int) []float32 {
	v := make([]float32, store.Dimensions)
	v[major%store.Dimensions] = 4
	v[minor%store.Dimensions] = 1
	return v
}

// queryEmbedder serves canned vectors per query string.
type queryEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (q *queryEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if q.err != nil {
		return nil, q.err
	}
	v, ok := q.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no canned vector for %q", text)
	}
	return v, nil
}

func seedDoc(t *testing.T, st *store.Store, relPath, title string, vec []float32, chunks ...store.Chunk) {
	t.Helper()
	id := store.DocumentID(testKey, relPath)
	for i := range chunks {
		chunks[i].ID = store.ChunkID(id, chunks[i].Index)
		chunks[i].DocumentID = id
		chunks[i].Tenant = testKey
		chunks[i].RelativePath = relPath
	}
	require.NoError(t, st.Upsert(context.Background(), &store.Document{
		ID:           id,
		Tenant:       testKey,
		RelativePath: relPath,
		DocType:      "insight",
		Title:        title,
		Content:      title,
		ContentHash:  "hash-" + relPath,
		Embedding:    vec,
		UpdatedAt:    time.Now(),
	}, chunks))
}

func newService(t *testing.T, emb *queryEmbedder) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open("", store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, emb, nil), st
}

func TestSearch_RanksByScore(t *testing.T) {
	emb := &queryEmbedder{vectors: map[string][]float32{"pools": axisVec(1)}}
	svc, st := newService(t, emb)
	seedDoc(t, st, "problems/pool.md", "Pool exhaustion", mixVec(1, 2))
	seedDoc(t, st, "insights/other.md", "Unrelated", axisVec(3))

	hits, err := svc.Search(context.Background(), Request{
		Query:  "pools",
		Filter: store.SearchFilter{Tenant: testKey},
	}.WithMinScore(0.6))

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "problems/pool.md", hits[0].RelativePath)
	assert.Equal(t, "Pool exhaustion", hits[0].Title)
	assert.Greater(t, hits[0].Score, 0.5)
	assert.False(t, hits[0].IsChunk)
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	svc, _ := newService(t, &queryEmbedder{})

	_, err := svc.Search(context.Background(), Request{Filter: store.SearchFilter{Tenant: testKey}})

	assert.Equal(t, cdocserr.TagInvalidArgument, cdocserr.TagOf(err))
}

func TestSearch_EmbeddingFailurePropagates(t *testing.T) {
	emb := &queryEmbedder{err: cdocserr.New(cdocserr.TagEmbeddingUnavailable, "down")}
	svc, _ := newService(t, emb)

	_, err := svc.Search(context.Background(), Request{
		Query:  "anything",
		Filter: store.SearchFilter{Tenant: testKey},
	})

	assert.Equal(t, cdocserr.TagEmbeddingUnavailable, cdocserr.TagOf(err))
}

func TestSearch_ChunkBeatsDocument(t *testing.T) {
	emb := &queryEmbedder{vectors: map[string][]float32{"layering": axisVec(5)}}
	svc, st := newService(t, emb)
	// Document vector matches weakly; one chunk matches exactly.
	seedDoc(t, st, "codebase/arch.md", "Architecture", mixVec(7, 5),
		store.Chunk{Index: 0, HeaderPath: "## Overview", Text: "intro", Embedding: mixVec(7, 6)},
		store.Chunk{Index: 1, HeaderPath: "## Layers", Text: "layering", Embedding: axisVec(5)},
	)

	hits, err := svc.Search(context.Background(), Request{
		Query:  "layering",
		Filter: store.SearchFilter{Tenant: testKey},
	})

	require.NoError(t, err)
	require.Len(t, hits, 1, "chunk and document must merge into one entry")
	assert.True(t, hits[0].IsChunk)
	assert.Equal(t, "## Layers", hits[0].HeaderPath)
	assert.Equal(t, 1, hits[0].ChunkIndex)
	assert.Equal(t, "Architecture", hits[0].Title)
	assert.InDelta(t, 1.0, hits[0].Score, 0.001)
}

func TestSearch_DocumentKeptWhenChunkScoresLower(t *testing.T) {
	emb := &queryEmbedder{vectors: map[string][]float32{"q": axisVec(2)}}
	svc, st := newService(t, emb)
	seedDoc(t, st, "codebase/arch.md", "Architecture", axisVec(2),
		store.Chunk{Index: 0, HeaderPath: "## Weak", Text: "weak", Embedding: mixVec(2, 9)},
	)

	hits, err := svc.Search(context.Background(), Request{
		Query:  "q",
		Filter: store.SearchFilter{Tenant: testKey},
	})

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.False(t, hits[0].IsChunk)
	assert.InDelta(t, 1.0, hits[0].Score, 0.001)
}

func TestSearch_MinScoreFilters(t *testing.T) {
	emb := &queryEmbedder{vectors: map[string][]float32{"q": axisVec(1)}}
	svc, st := newService(t, emb)
	seedDoc(t, st, "a.md", "Orthogonal", axisVec(2)) // score 0.5

	hits, err := svc.Search(context.Background(), Request{
		Query:  "q",
		Filter: store.SearchFilter{Tenant: testKey},
	}.WithMinScore(0.6))

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_ExplicitZeroMinScoreKeepsWeakHits(t *testing.T) {
	emb := &queryEmbedder{vectors: map[string][]float32{"q": axisVec(1)}}
	svc, st := newService(t, emb)
	seedDoc(t, st, "a.md", "Orthogonal", axisVec(2))

	hits, err := svc.Search(context.Background(), Request{
		Query:  "q",
		Filter: store.SearchFilter{Tenant: testKey},
	}.WithMinScore(0))

	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearch_LimitTruncatesAndCaps(t *testing.T) {
	vectors := map[string][]float32{"q": axisVec(0)}
	emb := &queryEmbedder{vectors: vectors}
	svc, st := newService(t, emb)
	for n := 0; n < 5; n++ {
		seedDoc(t, st, fmt.Sprintf("d%d.md", n), "Doc", mixVec(0, n+1))
	}

	hits, err := svc.Search(context.Background(), Request{
		Query:  "q",
		Filter: store.SearchFilter{Tenant: testKey},
		Limit:  3,
	})

	require.NoError(t, err)
	assert.Len(t, hits, 3)

	req := Request{Limit: 500}.withDefaults()
	assert.Equal(t, MaxLimit, req.Limit)
}

func TestSearch_ExplicitZeroLimitReturnsNothing(t *testing.T) {
	// No canned vector: an explicit zero limit must short-circuit
	// before the query is ever embedded.
	emb := &queryEmbedder{vectors: map[string][]float32{}}
	svc, st := newService(t, emb)
	seedDoc(t, st, "a.md", "Pools", mixVec(0, 1))

	hits, err := svc.Search(context.Background(), Request{
		Query:  "q",
		Filter: store.SearchFilter{Tenant: testKey},
	}.WithLimit(0))

	require.NoError(t, err)
	assert.Empty(t, hits)

	// An unset limit still falls back to the default.
	req := Request{}.withDefaults()
	assert.Equal(t, DefaultLimit, req.Limit)
}

func TestMerge_OrdersByScoreThenPath(t *testing.T) {
	docs := []store.DocumentHit{
		{Document: &store.Document{RelativePath: "b.md", Title: "B"}, Score: 0.8},
		{Document: &store.Document{RelativePath: "a.md", Title: "A"}, Score: 0.8},
		{Document: &store.Document{RelativePath: "c.md", Title: "C"}, Score: 0.9},
	}

	hits := Merge(docs, nil, 0.5)

	require.Len(t, hits, 3)
	assert.Equal(t, "c.md", hits[0].RelativePath)
	assert.Equal(t, "a.md", hits[1].RelativePath)
	assert.Equal(t, "b.md", hits[2].RelativePath)
}
