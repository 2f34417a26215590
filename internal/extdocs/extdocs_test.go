package extdocs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compounding-docs/cdocs/internal/search"
	"github.com/compounding-docs/cdocs/internal/store"
	"github.com/compounding-docs/cdocs/internal/tenant"
)

var testKey = tenant.Key{Project: "acme", Branch: "main", PathHash: "0123456789abcdef"}

type echoEmbedder struct{}

func (echoEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, store.Dimensions)
	var sum int
	for _, r := range text {
		sum += int(r)
	}
	v[sum%store.Dimensions] = 1
	return v, nil
}

func newCollection(t *testing.T) (*Collection, string) {
	t.Helper()
	docsPath := t.TempDir()
	c, err := Open(testKey, echoEmbedder{}, Options{DocsPath: docsPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, docsPath
}

func writeExternal(t *testing.T, root, relPath, content string) {
	t.Helper()
	abs := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestSync_IndexesBareMarkdownWithoutFrontmatter(t *testing.T) {
	c, docsPath := newCollection(t)
	writeExternal(t, docsPath, "api/reference.md", "# API Reference\n\nEndpoints and payloads.\n")
	writeExternal(t, docsPath, "readme.txt", "ignored")

	summary, err := c.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
	assert.Zero(t, summary.Failed)

	count, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSync_SecondRunSkipsUnchanged(t *testing.T) {
	c, docsPath := newCollection(t)
	writeExternal(t, docsPath, "guide.md", "# Guide\n\nSteps.\n")
	ctx := context.Background()

	_, err := c.Sync(ctx)
	require.NoError(t, err)
	summary, err := c.Sync(ctx)

	require.NoError(t, err)
	assert.Zero(t, summary.Indexed)
	assert.Equal(t, 1, summary.Skipped)
}

func TestSync_RemovesDeletedFiles(t *testing.T) {
	c, docsPath := newCollection(t)
	writeExternal(t, docsPath, "gone.md", "# Gone\n\nBody.\n")
	ctx := context.Background()

	_, err := c.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(docsPath, "gone.md")))
	_, err = c.Sync(ctx)
	require.NoError(t, err)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSearch_FindsExternalDocument(t *testing.T) {
	c, docsPath := newCollection(t)
	body := "# Rate limits\n\nThe API allows 100 requests per minute.\n"
	writeExternal(t, docsPath, "api/limits.md", body)
	ctx := context.Background()
	_, err := c.Sync(ctx)
	require.NoError(t, err)

	// The echo embedder maps identical text to identical vectors, so
	// querying with the document's own embedding input scores 1.0.
	hits, err := c.Search(ctx, search.Request{
		Query: "Rate limits\n\n" + body,
	})

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "api/limits.md", hits[0].RelativePath)
	assert.Equal(t, "Rate limits", hits[0].Title)
	assert.Empty(t, hits[0].PromotionLevel)
}
