// Package store provides durable storage of documents, chunks, and
// their embeddings, with tenant-filtered approximate-nearest-neighbor
// search. Metadata lives in SQLite; vectors live in HNSW graphs
// persisted alongside the database.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/compounding-docs/cdocs/internal/tenant"
)

// Dimensions is the embedding dimensionality the store accepts.
const Dimensions = 1024

// Document is one indexed markdown file.
type Document struct {
	// ID is the vector-store identity: tenant key plus relative path.
	ID string

	Tenant       tenant.Key
	RelativePath string

	DocType        string
	Title          string
	Summary        string
	Frontmatter    map[string]any
	PromotionLevel string

	// Content is the markdown body, retained for RAG context
	// assembly. CharCount is its length in characters.
	Content     string
	ContentHash string
	CharCount   int

	// Links are outbound docs-root-relative link targets, retained so
	// the link graph can be rebuilt on startup.
	Links []string

	// Embedding is empty (pending) or exactly Dimensions long.
	Embedding []float32

	// CreatedAt is set on first insert and survives re-indexing;
	// UpdatedAt moves on every write.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentID builds the deterministic document identity: a hash of
// the tenant key and the relative path, in the same short-prefix form
// as tenant path hashes.
func DocumentID(key tenant.Key, relativePath string) string {
	sum := sha256.Sum256([]byte(key.String() + "|" + relativePath))
	return hex.EncodeToString(sum[:])[:32]
}

// Chunk is one heading-bounded slice of an oversized document. Chunks
// inherit the parent's tenant and promotion level.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int

	Tenant         tenant.Key
	RelativePath   string
	HeaderPath     string
	Text           string
	PromotionLevel string

	Embedding []float32
}

// ChunkID builds the deterministic chunk identity.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s#%d", documentID, index)
}

// SearchFilter constrains a vector search. Tenant is mandatory; the
// slices are optional and empty means unconstrained.
type SearchFilter struct {
	Tenant          tenant.Key
	DocTypes        []string
	PromotionLevels []string
}

// DocumentHit is one document search result.
type DocumentHit struct {
	Document *Document
	Score    float64
}

// ChunkHit is one chunk search result. The parent document's title is
// carried for presentation.
type ChunkHit struct {
	Chunk         *Chunk
	DocumentTitle string
	DocType       string
	Score         float64
}

// ListEntry is the reconciliation projection of one document.
type ListEntry struct {
	RelativePath string
	ContentHash  string
	UpdatedAt    time.Time
}

// ErrDimensionMismatch reports a vector of unexpected length.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// VectorConfig configures an HNSW index.
type VectorConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// WithDefaults fills zero values.
func (c VectorConfig) WithDefaults() VectorConfig {
	if c.Dimensions == 0 {
		c.Dimensions = Dimensions
	}
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 20
	}
	return c
}

// VectorResult is one raw ANN match before metadata filtering.
type VectorResult struct {
	ID    string
	Score float64
}
