package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

func TestParse_MinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte(`{"project_name": "acme-docs"}`), nil)

	require.NoError(t, err)
	assert.Equal(t, "acme-docs", cfg.ProjectName)
	assert.Equal(t, "docs", cfg.DocsDir)
	assert.Equal(t, DefaultMinRelevanceScore, cfg.MinRelevanceScore)
	assert.Equal(t, DefaultRAGMinScore, cfg.RAGMinScore)
	assert.Equal(t, DefaultMaxSources, cfg.MaxSources)
	assert.Equal(t, DefaultIndexConcurrency, cfg.IndexConcurrency)
	assert.Equal(t, DefaultEmbeddingHost, cfg.Embedding.Host)
	assert.Nil(t, cfg.ExternalDocs)
	assert.Nil(t, cfg.Generator)
}

func TestParse_MissingProjectName(t *testing.T) {
	_, err := Parse([]byte(`{"docs_dir": "docs"}`), nil)

	require.Error(t, err)
	assert.Equal(t, cdocserr.TagConfigInvalid, cdocserr.TagOf(err))
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`), nil)

	require.Error(t, err)
	assert.Equal(t, cdocserr.TagConfigInvalid, cdocserr.TagOf(err))
}

func TestParse_UnknownFieldWarnsButLoads(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cfg, err := Parse([]byte(`{"project_name": "p", "no_such_field": 42}`), logger)

	require.NoError(t, err)
	assert.Equal(t, "p", cfg.ProjectName)
	assert.Contains(t, buf.String(), "no_such_field")
	assert.Contains(t, buf.String(), "unknown config field")
}

func TestParse_CustomDocTypes(t *testing.T) {
	data := []byte(`{
		"project_name": "p",
		"custom_doc_types": [
			{
				"name": "runbook",
				"folder": "runbooks",
				"fields": [
					{"name": "severity", "type": "string", "required": true, "enum": ["low", "high"]},
					{"name": "tags", "type": "array"}
				]
			}
		]
	}`)

	cfg, err := Parse(data, nil)

	require.NoError(t, err)
	require.Len(t, cfg.CustomDocTypes, 1)
	ct := cfg.CustomDocTypes[0]
	assert.Equal(t, "runbook", ct.Name)
	assert.Equal(t, "runbooks", ct.Folder)
	require.Len(t, ct.Fields, 2)
	assert.True(t, ct.Fields[0].Required)
	assert.Equal(t, []string{"low", "high"}, ct.Fields[0].Enum)
}

func TestParse_CustomDocTypeBadFieldType(t *testing.T) {
	data := []byte(`{
		"project_name": "p",
		"custom_doc_types": [
			{"name": "runbook", "fields": [{"name": "x", "type": "uuid"}]}
		]
	}`)

	_, err := Parse(data, nil)

	require.Error(t, err)
	assert.Equal(t, cdocserr.TagConfigInvalid, cdocserr.TagOf(err))
}

func TestParse_ScoreOutOfRange(t *testing.T) {
	_, err := Parse([]byte(`{"project_name": "p", "min_relevance_score": 1.5}`), nil)

	require.Error(t, err)
	assert.Equal(t, cdocserr.TagConfigInvalid, cdocserr.TagOf(err))
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(t.TempDir(), nil)

	require.Error(t, err)
	assert.Equal(t, cdocserr.TagConfigInvalid, cdocserr.TagOf(err))
}

func TestLoad_ReadsFromStateDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(StateDir(root), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(StateDir(root), ConfigFileName),
		[]byte(`{"project_name": "from-disk", "max_sources": 5}`),
		0o644))

	cfg, err := Load(root, nil)

	require.NoError(t, err)
	assert.Equal(t, "from-disk", cfg.ProjectName)
	assert.Equal(t, 5, cfg.MaxSources)
}

func TestConfig_Summary(t *testing.T) {
	cfg := Config{
		ProjectName:  "p",
		ExternalDocs: &ExternalDocs{Path: "/ext"},
	}.WithDefaults()

	s := cfg.Summary()

	assert.Equal(t, "p", s["project_name"])
	assert.Equal(t, "/ext", s["external_docs_path"])
	assert.NotContains(t, s, "generator")
}
