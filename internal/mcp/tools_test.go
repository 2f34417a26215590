package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compounding-docs/cdocs/internal/config"
	"github.com/compounding-docs/cdocs/internal/store"
)

func TestNormalizeDocPath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain path", "problems/pool.md", "problems/pool.md", false},
		{"backslashes normalized", `problems\pool.md`, "problems/pool.md", false},
		{"redundant segments cleaned", "problems/./pool.md", "problems/pool.md", false},
		{"empty rejected", "", "", true},
		{"absolute rejected", "/etc/passwd.md", "", true},
		{"traversal rejected", "../outside.md", "", true},
		{"nested traversal rejected", "a/../../outside.md", "", true},
		{"non-markdown rejected", "problems/pool.txt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeDocPath(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTools_RequireActivation(t *testing.T) {
	s := NewServer(nil)
	ctx := context.Background()

	result, _, err := s.handleSemanticSearch(ctx, nil, SemanticSearchInput{Query: "q"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	reply := result.StructuredContent.(ErrorReply)
	assert.Equal(t, "ProjectNotActivated", reply.Code)

	result, _, err = s.handleIndexDocument(ctx, nil, IndexDocumentInput{RelativePath: "a.md"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

// embeddingStub serves deterministic vectors derived from the input
// text, standing in for the local generator service.
func embeddingStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vec := make([]float32, store.Dimensions)
		var sum int
		for _, c := range req.Input {
			sum += int(c)
		}
		vec[sum%store.Dimensions] = 1
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// scaffoldProject builds a repository root with a config file and a
// docs directory.
func scaffoldProject(t *testing.T, embeddingHost string, docs map[string]string) string {
	t.Helper()
	root := t.TempDir()

	stateDir := filepath.Join(root, config.StateDirName)
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	cfg := map[string]any{
		"project_name": "acme",
		"embedding":    map[string]any{"host": embeddingHost},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, config.ConfigFileName), data, 0o644))

	for rel, content := range docs {
		abs := filepath.Join(root, "docs", rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return root
}

const poolDoc = `---
doc_type: problem
title: Pool exhaustion
---
The connection pool runs out under load.
`

func TestActivateAndIndexAndSearch(t *testing.T) {
	embedSrv := embeddingStub(t)
	root := scaffoldProject(t, embedSrv.URL, map[string]string{
		"problems/pool.md": poolDoc,
	})

	s := NewServer(nil)
	t.Cleanup(s.Close)
	ctx := context.Background()

	result, out, err := s.handleActivateProject(ctx, nil, ActivateProjectInput{RootPath: root})
	require.NoError(t, err)
	require.Nil(t, result)
	assert.True(t, out.Activated)
	assert.Equal(t, "acme", out.Project)
	assert.NotEmpty(t, out.Branch)
	assert.Len(t, out.PathHash, 16)

	// Startup reconciliation indexed the existing document; search with
	// the document's own embedding input scores 1.0.
	query := "Pool exhaustion\n\nThe connection pool runs out under load.\n"
	sres, sout, err := s.handleSemanticSearch(ctx, nil, SemanticSearchInput{Query: query})
	require.NoError(t, err)
	require.Nil(t, sres)
	require.Equal(t, 1, sout.Count)
	assert.Equal(t, "problems/pool.md", sout.Results[0].RelativePath)
	assert.Equal(t, "Pool exhaustion", sout.Results[0].Title)

	// An explicit zero limit means "no results", unlike an omitted
	// limit which defaults to 10.
	zero := 0
	sres, sout, err = s.handleSemanticSearch(ctx, nil, SemanticSearchInput{Query: query, Limit: &zero})
	require.NoError(t, err)
	require.Nil(t, sres)
	assert.Zero(t, sout.Count)
	assert.Empty(t, sout.Results)

	negative := -1
	sres, _, err = s.handleSemanticSearch(ctx, nil, SemanticSearchInput{Query: query, Limit: &negative})
	require.NoError(t, err)
	require.NotNil(t, sres)
	assert.Equal(t, "InvalidArgument", sres.StructuredContent.(ErrorReply).Code)

	// Explicit re-index reports the unchanged content as skipped.
	ires, iout, err := s.handleIndexDocument(ctx, nil, IndexDocumentInput{RelativePath: "problems/pool.md"})
	require.NoError(t, err)
	require.Nil(t, ires)
	assert.Equal(t, "skipped", iout.Status)
	assert.Equal(t, store.Dimensions, iout.EmbeddingDimensions)
}

func TestActivate_MissingConfigFails(t *testing.T) {
	s := NewServer(nil)
	root := t.TempDir()

	result, _, err := s.handleActivateProject(context.Background(), nil, ActivateProjectInput{RootPath: root})

	require.NoError(t, err)
	require.NotNil(t, result)
	reply := result.StructuredContent.(ErrorReply)
	assert.Equal(t, "ConfigInvalid", reply.Code)
}

func TestDeleteDocumentsAndPromotion(t *testing.T) {
	embedSrv := embeddingStub(t)
	root := scaffoldProject(t, embedSrv.URL, map[string]string{
		"problems/pool.md": poolDoc,
	})

	s := NewServer(nil)
	t.Cleanup(s.Close)
	ctx := context.Background()

	_, _, err := s.handleActivateProject(ctx, nil, ActivateProjectInput{RootPath: root})
	require.NoError(t, err)

	pres, pout, err := s.handleUpdatePromotion(ctx, nil, UpdatePromotionInput{
		Path: "problems/pool.md", Level: "critical",
	})
	require.NoError(t, err)
	require.Nil(t, pres)
	assert.Equal(t, "critical", pout.PromotionLevel)

	// Invalid level is rejected before touching the store.
	pres, _, err = s.handleUpdatePromotion(ctx, nil, UpdatePromotionInput{
		Path: "problems/pool.md", Level: "urgent",
	})
	require.NoError(t, err)
	require.NotNil(t, pres)
	assert.Equal(t, "InvalidArgument", pres.StructuredContent.(ErrorReply).Code)

	dres, dout, err := s.handleDeleteDocuments(ctx, nil, DeleteDocumentsInput{
		Paths: []string{"problems/pool.md", "../escape.md"},
	})
	require.NoError(t, err)
	require.Nil(t, dres)
	assert.Equal(t, []string{"problems/pool.md"}, dout.Deleted)
	assert.Contains(t, dout.Failed, "../escape.md")

	lres, lout, err := s.handleListDocTypes(ctx, nil, ListDocTypesInput{})
	require.NoError(t, err)
	require.Nil(t, lres)
	var problemCount = -1
	for _, dt := range lout.DocTypes {
		if dt.Name == "problem" {
			problemCount = dt.Documents
			assert.Equal(t, "problems", dt.Folder)
			assert.True(t, dt.Builtin)
		}
	}
	assert.Zero(t, problemCount)
}

func TestHealthStatus_ReportsBreakerState(t *testing.T) {
	embedSrv := embeddingStub(t)
	root := scaffoldProject(t, embedSrv.URL, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))

	s := NewServer(nil)
	t.Cleanup(s.Close)
	ctx := context.Background()

	_, _, err := s.handleActivateProject(ctx, nil, ActivateProjectInput{RootPath: root})
	require.NoError(t, err)

	hres, snap, err := s.handleHealthStatus(ctx, nil, HealthStatusInput{})
	require.NoError(t, err)
	require.Nil(t, hres)
	assert.True(t, snap.Available)
	assert.Equal(t, "closed", snap.State)
}
