package rag

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compounding-docs/cdocs/internal/doctype"
	"github.com/compounding-docs/cdocs/internal/linkgraph"
	"github.com/compounding-docs/cdocs/internal/store"
	"github.com/compounding-docs/cdocs/internal/tenant"
)

var testKey = tenant.Key{Project: "acme", Branch: "main", PathHash: "0123456789abcdef"}

func axisVec(axis int) []float32 {
	v := make([]float32, store.Dimensions)
	v[axis%store.Dimensions] = 1
	return v
}

func mixVec(major, minor int) []float32 {
	v := make([]float32, store.Dimensions)
	v[major%store.Dimensions] = 4
	v[minor%store.Dimensions] = 1
	return v
}

type cannedEmbedder struct {
	vectors map[string][]float32
}

func (c *cannedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := c.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no canned vector for %q", text)
	}
	return v, nil
}

type ragFixture struct {
	retriever *Retriever
	store     *store.Store
	graph     *linkgraph.Graph
}

func newRagFixture(t *testing.T, queryVectors map[string][]float32) *ragFixture {
	t.Helper()
	st, err := store.Open("", store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	graph := linkgraph.New(nil)
	return &ragFixture{
		retriever: New(st, &cannedEmbedder{vectors: queryVectors}, graph, nil),
		store:     st,
		graph:     graph,
	}
}

type seed struct {
	path    string
	title   string
	level   string
	vec     []float32
	links   []string
	content string
	chunks  []store.Chunk
}

func (f *ragFixture) seed(t *testing.T, s seed) {
	t.Helper()
	id := store.DocumentID(testKey, s.path)
	for i := range s.chunks {
		s.chunks[i].ID = store.ChunkID(id, s.chunks[i].Index)
		s.chunks[i].DocumentID = id
		s.chunks[i].Tenant = testKey
		s.chunks[i].RelativePath = s.path
		s.chunks[i].PromotionLevel = s.level
	}
	content := s.content
	if content == "" {
		content = s.title
	}
	require.NoError(t, f.store.Upsert(context.Background(), &store.Document{
		ID:             id,
		Tenant:         testKey,
		RelativePath:   s.path,
		DocType:        "insight",
		Title:          s.title,
		PromotionLevel: s.level,
		Content:        content,
		ContentHash:    "hash-" + s.path,
		Links:          s.links,
		Embedding:      s.vec,
		UpdatedAt:      time.Now(),
	}, s.chunks))
	f.graph.ReplaceOutEdges(s.path, s.links)
}

func baseFilter() store.SearchFilter {
	return store.SearchFilter{Tenant: testKey}
}

func TestRetrieve_CriticalPrependedRegardlessOfScore(t *testing.T) {
	f := newRagFixture(t, map[string][]float32{"about b": axisVec(1)})
	f.seed(t, seed{path: "a.md", title: "Deploy rules", level: doctype.LevelCritical, vec: axisVec(9)})
	f.seed(t, seed{path: "b.md", title: "Relevant", level: doctype.LevelStandard, vec: mixVec(1, 2)})

	sources, err := f.retriever.Retrieve(context.Background(), "about b", baseFilter(),
		Options{MaxSources: 3, IncludeCritical: true})

	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "a.md", sources[0].RelativePath)
	assert.True(t, sources[0].Critical)
	assert.Equal(t, "b.md", sources[1].RelativePath)
	assert.False(t, sources[1].Critical)
}

func TestRetrieve_CriticalExcludedWhenDisabled(t *testing.T) {
	f := newRagFixture(t, map[string][]float32{"about b": axisVec(1)})
	f.seed(t, seed{path: "a.md", title: "Deploy rules", level: doctype.LevelCritical, vec: axisVec(9)})
	f.seed(t, seed{path: "b.md", title: "Relevant", level: doctype.LevelStandard, vec: mixVec(1, 2)})

	sources, err := f.retriever.Retrieve(context.Background(), "about b", baseFilter(),
		Options{MaxSources: 3, IncludeCritical: false})

	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "b.md", sources[0].RelativePath)
}

func TestRetrieve_RelevanceFloorExcludesWeakMatches(t *testing.T) {
	f := newRagFixture(t, map[string][]float32{"q": axisVec(1)})
	f.seed(t, seed{path: "weak.md", title: "Weak", level: doctype.LevelStandard, vec: axisVec(2)})

	sources, err := f.retriever.Retrieve(context.Background(), "q", baseFilter(),
		Options{MaxSources: 3})

	require.NoError(t, err)
	assert.Empty(t, sources, "score 0.5 is below the 0.7 floor")
}

func TestRetrieve_CriticalNotDuplicatedByRelevance(t *testing.T) {
	f := newRagFixture(t, map[string][]float32{"q": axisVec(1)})
	f.seed(t, seed{path: "a.md", title: "Both", level: doctype.LevelCritical, vec: mixVec(1, 2)})

	sources, err := f.retriever.Retrieve(context.Background(), "q", baseFilter(),
		Options{MaxSources: 3, IncludeCritical: true})

	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.True(t, sources[0].Critical)
}

func TestRetrieve_ChunkCarriesHeaderPath(t *testing.T) {
	f := newRagFixture(t, map[string][]float32{"layering": axisVec(5)})
	f.seed(t, seed{
		path: "arch.md", title: "Architecture", level: doctype.LevelStandard, vec: axisVec(8),
		chunks: []store.Chunk{
			{Index: 0, HeaderPath: "## Layers", Text: "layer rules", Embedding: axisVec(5)},
		},
	})

	sources, err := f.retriever.Retrieve(context.Background(), "layering", baseFilter(),
		Options{MaxSources: 3})

	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.True(t, sources[0].IsChunk)
	assert.Equal(t, "## Layers", sources[0].HeaderPath)
	assert.Equal(t, "layer rules", sources[0].Content)
}

func TestRetrieve_MaxSourcesBoundsPrimarySet(t *testing.T) {
	f := newRagFixture(t, map[string][]float32{"q": axisVec(0)})
	for n := 0; n < 5; n++ {
		f.seed(t, seed{
			path:  fmt.Sprintf("d%d.md", n),
			title: "Doc", level: doctype.LevelStandard, vec: mixVec(0, n+1),
		})
	}

	sources, err := f.retriever.Retrieve(context.Background(), "q", baseFilter(),
		Options{MaxSources: 2})

	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestRetrieve_LinkExpansionAnnotatesOrigin(t *testing.T) {
	f := newRagFixture(t, map[string][]float32{"q": axisVec(1)})
	f.seed(t, seed{
		path: "main.md", title: "Main", level: doctype.LevelStandard,
		vec: mixVec(1, 2), links: []string{"linked.md"},
	})
	f.seed(t, seed{path: "linked.md", title: "Linked", level: doctype.LevelStandard, vec: axisVec(9)})

	sources, err := f.retriever.Retrieve(context.Background(), "q", baseFilter(),
		Options{MaxSources: 3, LinkExpansion: true})

	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "main.md", sources[0].RelativePath)
	assert.Equal(t, "linked.md", sources[1].RelativePath)
	assert.Equal(t, "main.md", sources[1].LinkedFrom)
}

func TestRetrieve_LinkExpansionHonorsBudget(t *testing.T) {
	f := newRagFixture(t, map[string][]float32{"q": axisVec(1)})
	f.seed(t, seed{
		path: "main.md", title: "Main", level: doctype.LevelStandard,
		vec: mixVec(1, 2), links: []string{"l1.md", "l2.md", "l3.md"},
	})
	for n := 1; n <= 3; n++ {
		f.seed(t, seed{
			path:  fmt.Sprintf("l%d.md", n),
			title: "Linked", level: doctype.LevelStandard, vec: axisVec(9 + n),
		})
	}

	sources, err := f.retriever.Retrieve(context.Background(), "q", baseFilter(),
		Options{MaxSources: 3, LinkExpansion: true, MaxLinkedDocs: 1})

	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.NotEmpty(t, sources[1].LinkedFrom)
}

func TestRetrieve_EmptyQueryRejected(t *testing.T) {
	f := newRagFixture(t, nil)

	_, err := f.retriever.Retrieve(context.Background(), "", baseFilter(), Options{})

	require.Error(t, err)
}
