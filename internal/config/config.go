// Package config loads the per-project configuration from
// {root}/.csharp-compounding-docs/config.json.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

// StateDirName is the per-project state directory under the repository
// root. It holds config.json, the index files, and logs.
const StateDirName = ".csharp-compounding-docs"

// ConfigFileName is the configuration file name inside the state dir.
const ConfigFileName = "config.json"

// Default tuning values. Callers see them through WithDefaults.
const (
	DefaultMinRelevanceScore = 0.5
	DefaultRAGMinScore       = 0.7
	DefaultMaxSources        = 3
	DefaultMaxLinkedDocs     = 3
	DefaultMaxLinkDepth      = 2
	DefaultMaxTraversalDepth = 10
	DefaultSearchLimit       = 10
	DefaultSearchLimitCap    = 50
	DefaultChunkThreshold    = 500
	DefaultIndexConcurrency  = 4
	DefaultDeferredCapacity  = 1000
	DefaultMaxRetryAttempts  = 3
	DefaultDebounceMillis    = 500
	DefaultEmbeddingHost     = "http://localhost:8765"
)

// Config is the resolved project configuration.
type Config struct {
	// ProjectName identifies the project; part of the tenant key.
	ProjectName string `json:"project_name"`

	// DocsDir is the docs root, relative to the repository root.
	// Defaults to "docs".
	DocsDir string `json:"docs_dir,omitempty"`

	// ExternalDocs configures the separately indexed external
	// collection. Nil disables the external tools.
	ExternalDocs *ExternalDocs `json:"external_docs,omitempty"`

	// CustomDocTypes registers user-defined doc-types.
	CustomDocTypes []CustomDocType `json:"custom_doc_types,omitempty"`

	// ExcludePatterns are glob patterns skipped by the watcher and
	// reconciler, relative to the docs root.
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`

	// Embedding configures the embedding generator service.
	Embedding Embedding `json:"embedding,omitempty"`

	// Generator configures the optional answer generator used by
	// rag_query. Nil means retrieval-only responses.
	Generator *Generator `json:"generator,omitempty"`

	// Thresholds and limits.
	MinRelevanceScore float64 `json:"min_relevance_score,omitempty"`
	RAGMinScore       float64 `json:"rag_min_relevance_score,omitempty"`
	MaxSources        int     `json:"max_sources,omitempty"`
	MaxLinkedDocs     int     `json:"max_linked_docs,omitempty"`
	MaxLinkDepth      int     `json:"max_link_depth,omitempty"`
	MaxTraversalDepth int     `json:"max_traversal_depth,omitempty"`
	ChunkThreshold    int     `json:"chunk_threshold_lines,omitempty"`
	LinkExpansion     bool    `json:"link_expansion,omitempty"`

	// IndexConcurrency bounds how many documents are indexed in
	// parallel.
	IndexConcurrency int `json:"index_concurrency,omitempty"`

	// DebounceMillis is the watcher quiescence window.
	DebounceMillis int `json:"debounce_millis,omitempty"`

	// DeferredCapacity caps the in-memory deferred event queue.
	DeferredCapacity int `json:"deferred_capacity,omitempty"`

	// MaxRetryAttempts before a deferred event is dropped.
	MaxRetryAttempts int `json:"max_retry_attempts,omitempty"`
}

// ExternalDocs configures the external documentation collection.
type ExternalDocs struct {
	// Path is the external docs root, absolute or relative to the
	// repository root.
	Path string `json:"path"`
}

// Embedding configures the embedding generator service.
type Embedding struct {
	// Host is the base URL of the local generator service.
	Host string `json:"host,omitempty"`
	// CacheSize is the LRU embedding cache capacity (0 disables).
	CacheSize int `json:"cache_size,omitempty"`
}

// Generator configures the optional answer synthesis service.
type Generator struct {
	Host  string `json:"host"`
	Model string `json:"model,omitempty"`
}

// CustomDocType declares a user-defined doc-type and its frontmatter
// schema.
type CustomDocType struct {
	// Name is the doc_type value used in frontmatter.
	Name string `json:"name"`
	// Folder is the subdirectory of the docs root holding this type.
	Folder string `json:"folder,omitempty"`
	// Fields are the frontmatter field specs.
	Fields []FieldSpec `json:"fields,omitempty"`
}

// FieldSpec describes one frontmatter field of a custom doc-type.
type FieldSpec struct {
	Name     string   `json:"name"`
	Type     string   `json:"type,omitempty"` // string, number, boolean, array, date
	Required bool     `json:"required,omitempty"`
	Enum     []string `json:"enum,omitempty"`
}

// knownFields is the set of accepted top-level config.json keys.
// Anything else is ignored with a warning.
var knownFields = map[string]struct{}{
	"project_name":            {},
	"docs_dir":                {},
	"external_docs":           {},
	"custom_doc_types":        {},
	"exclude_patterns":        {},
	"embedding":               {},
	"generator":               {},
	"min_relevance_score":     {},
	"rag_min_relevance_score": {},
	"max_sources":             {},
	"max_linked_docs":         {},
	"max_link_depth":          {},
	"max_traversal_depth":     {},
	"chunk_threshold_lines":   {},
	"link_expansion":          {},
	"index_concurrency":       {},
	"debounce_millis":         {},
	"deferred_capacity":       {},
	"max_retry_attempts":      {},
}

// Path returns the config file path for a repository root.
func Path(rootPath string) string {
	return filepath.Join(rootPath, StateDirName, ConfigFileName)
}

// StateDir returns the state directory path for a repository root.
func StateDir(rootPath string) string {
	return filepath.Join(rootPath, StateDirName)
}

// Load reads and validates the config file for a repository root.
func Load(rootPath string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := Path(rootPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cdocserr.Newf(cdocserr.TagConfigInvalid, "config file not found: %s", path).
				WithSuggestion("Create config.json with at least a project_name field.")
		}
		return nil, cdocserr.Wrap(cdocserr.TagConfigInvalid, "failed to read config file", err)
	}

	return Parse(data, logger)
}

// Parse decodes config bytes, warns on unknown fields, applies
// defaults, and validates.
func Parse(data []byte, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// First pass: detect unknown fields without failing on them.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagConfigInvalid, "config.json is not valid JSON", err)
	}
	for key := range raw {
		if _, ok := knownFields[key]; !ok {
			logger.Warn("ignoring unknown config field", slog.String("field", key))
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagConfigInvalid, "config.json has invalid field types", err)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WithDefaults returns the config with defaults applied for zero
// values.
func (c Config) WithDefaults() Config {
	if c.DocsDir == "" {
		c.DocsDir = "docs"
	}
	if c.MinRelevanceScore == 0 {
		c.MinRelevanceScore = DefaultMinRelevanceScore
	}
	if c.RAGMinScore == 0 {
		c.RAGMinScore = DefaultRAGMinScore
	}
	if c.MaxSources == 0 {
		c.MaxSources = DefaultMaxSources
	}
	if c.MaxLinkedDocs == 0 {
		c.MaxLinkedDocs = DefaultMaxLinkedDocs
	}
	if c.MaxLinkDepth == 0 {
		c.MaxLinkDepth = DefaultMaxLinkDepth
	}
	if c.MaxTraversalDepth == 0 {
		c.MaxTraversalDepth = DefaultMaxTraversalDepth
	}
	if c.ChunkThreshold == 0 {
		c.ChunkThreshold = DefaultChunkThreshold
	}
	if c.IndexConcurrency == 0 {
		c.IndexConcurrency = DefaultIndexConcurrency
	}
	if c.DebounceMillis == 0 {
		c.DebounceMillis = DefaultDebounceMillis
	}
	if c.DeferredCapacity == 0 {
		c.DeferredCapacity = DefaultDeferredCapacity
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.Embedding.Host == "" {
		c.Embedding.Host = DefaultEmbeddingHost
	}
	return c
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.ProjectName == "" {
		return cdocserr.New(cdocserr.TagConfigInvalid, "config.json is missing required field project_name").
			WithSuggestion("Add a project_name field to config.json.")
	}
	if c.MinRelevanceScore < 0 || c.MinRelevanceScore > 1 {
		return cdocserr.Newf(cdocserr.TagConfigInvalid, "min_relevance_score must be in [0,1], got %v", c.MinRelevanceScore)
	}
	if c.RAGMinScore < 0 || c.RAGMinScore > 1 {
		return cdocserr.Newf(cdocserr.TagConfigInvalid, "rag_min_relevance_score must be in [0,1], got %v", c.RAGMinScore)
	}
	if c.ExternalDocs != nil && c.ExternalDocs.Path == "" {
		return cdocserr.New(cdocserr.TagConfigInvalid, "external_docs.path must not be empty when external_docs is set")
	}
	if c.Generator != nil && c.Generator.Host == "" {
		return cdocserr.New(cdocserr.TagConfigInvalid, "generator.host must not be empty when generator is set")
	}
	for _, ct := range c.CustomDocTypes {
		if ct.Name == "" {
			return cdocserr.New(cdocserr.TagConfigInvalid, "custom_doc_types entries must have a name")
		}
		for _, f := range ct.Fields {
			if f.Name == "" {
				return cdocserr.Newf(cdocserr.TagConfigInvalid, "custom doc-type %q has a field without a name", ct.Name)
			}
			switch f.Type {
			case "", "string", "number", "boolean", "array", "date":
			default:
				return cdocserr.Newf(cdocserr.TagConfigInvalid,
					"custom doc-type %q field %q has unknown type %q", ct.Name, f.Name, f.Type)
			}
		}
	}
	return nil
}

// DebounceInterval returns the debounce window as a duration.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// Summary returns a compact description of the resolved config for the
// activate_project reply.
func (c *Config) Summary() map[string]any {
	s := map[string]any{
		"project_name":        c.ProjectName,
		"docs_dir":            c.DocsDir,
		"min_relevance_score": c.MinRelevanceScore,
		"max_sources":         c.MaxSources,
		"custom_doc_types":    len(c.CustomDocTypes),
		"link_expansion":      c.LinkExpansion,
	}
	if c.ExternalDocs != nil {
		s["external_docs_path"] = c.ExternalDocs.Path
	}
	if c.Generator != nil {
		s["generator"] = fmt.Sprintf("%s (%s)", c.Generator.Host, c.Generator.Model)
	}
	return s
}
