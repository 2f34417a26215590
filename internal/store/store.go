package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/tenant"
)

// Index file names inside the store directory.
const (
	dbFileName         = "docs.db"
	docVectorFileName  = "docs.hnsw"
	chunkVectorFile    = "chunks.hnsw"
	lockFileName       = "index.lock"
	searchOverFetchMul = 4
	searchOverFetchMin = 16
)

// Store combines SQLite metadata with two HNSW graphs (documents,
// chunks). All writes go through the store mutex so a search observes
// either the pre-upsert or the post-upsert state, never a mix.
type Store struct {
	mu sync.RWMutex

	meta         *metadataDB
	docVectors   *HNSWIndex
	chunkVectors *HNSWIndex

	dir    string
	lock   *indexLock
	logger *slog.Logger
}

// Options configures Open.
type Options struct {
	// Vector configures both HNSW graphs.
	Vector VectorConfig
	Logger *slog.Logger
}

// Open opens (or creates) the store in dir and acquires its lock file
// so two server processes never share an index. An empty dir opens an
// in-memory store for tests.
func Open(dir string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Vector = opts.Vector.WithDefaults()

	s := &Store{
		dir:          dir,
		docVectors:   NewHNSWIndex(opts.Vector),
		chunkVectors: NewHNSWIndex(opts.Vector),
		logger:       opts.Logger,
	}

	dbPath := ""
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cdocserr.Wrap(cdocserr.TagFileSystemError, "failed to create index directory", err)
		}
		lock, err := acquireIndexLock(filepath.Join(dir, lockFileName))
		if err != nil {
			return nil, err
		}
		s.lock = lock
		dbPath = filepath.Join(dir, dbFileName)
	}

	meta, err := openMetadataDB(dbPath)
	if err != nil {
		s.releaseLock()
		return nil, cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to open metadata database", err)
	}
	s.meta = meta

	if dir != "" {
		s.loadOrRebuild(s.docVectors, filepath.Join(dir, docVectorFileName), "documents")
		s.loadOrRebuild(s.chunkVectors, filepath.Join(dir, chunkVectorFile), "chunks")
	}

	return s, nil
}

// loadOrRebuild restores an HNSW graph from disk, falling back to a
// rebuild from the persisted embeddings when the file is missing or
// unreadable.
func (s *Store) loadOrRebuild(index *HNSWIndex, path, table string) {
	if _, err := os.Stat(path); err == nil {
		if err := index.Load(path); err == nil {
			return
		}
		s.logger.Warn("vector index unreadable, rebuilding from database",
			slog.String("path", path))
	}

	rows, err := s.meta.allEmbeddings(context.Background(), table)
	if err != nil {
		s.logger.Error("failed to read embeddings for rebuild",
			slog.String("table", table),
			slog.String("error", err.Error()))
		return
	}
	for _, r := range rows {
		if err := index.Add(r.ID, r.Vector); err != nil {
			s.logger.Warn("skipping embedding during rebuild",
				slog.String("id", r.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Upsert inserts or replaces a document and atomically replaces its
// chunk set.
func (s *Store) Upsert(ctx context.Context, doc *Document, chunks []Chunk) error {
	if err := doc.Tenant.Validate(); err != nil {
		return err
	}
	if len(doc.Embedding) != 0 && len(doc.Embedding) != Dimensions {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "document embedding rejected",
			ErrDimensionMismatch{Expected: Dimensions, Got: len(doc.Embedding)})
	}
	for i := range chunks {
		if len(chunks[i].Embedding) != 0 && len(chunks[i].Embedding) != Dimensions {
			return cdocserr.Wrap(cdocserr.TagVectorStoreError, "chunk embedding rejected",
				ErrDimensionMismatch{Expected: Dimensions, Got: len(chunks[i].Embedding)})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldChunkIDs, err := s.meta.chunkIDs(ctx, doc.ID)
	if err != nil {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to read existing chunks", err)
	}

	if err := s.meta.upsertTx(ctx, doc, chunks, true); err != nil {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to upsert document", err)
	}

	// Vector updates follow the committed metadata while still under
	// the store lock, so readers see both or neither.
	if len(doc.Embedding) == Dimensions {
		if err := s.docVectors.Add(doc.ID, doc.Embedding); err != nil {
			return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to index document vector", err)
		}
	} else {
		s.docVectors.Delete(doc.ID)
	}

	s.chunkVectors.Delete(oldChunkIDs...)
	for i := range chunks {
		c := &chunks[i]
		if len(c.Embedding) != Dimensions {
			continue
		}
		if err := s.chunkVectors.Add(c.ID, c.Embedding); err != nil {
			return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to index chunk vector", err)
		}
	}
	return nil
}

// Delete removes a document and its chunks. Deleting an absent
// document is a no-op.
func (s *Store) Delete(ctx context.Context, key tenant.Key, relativePath string) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docID := DocumentID(key, relativePath)
	chunkIDs, err := s.meta.chunkIDs(ctx, docID)
	if err != nil {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to read chunks for delete", err)
	}
	if err := s.meta.deleteTx(ctx, docID); err != nil {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to delete document", err)
	}
	s.docVectors.Delete(docID)
	s.chunkVectors.Delete(chunkIDs...)
	return nil
}

// GetDocument returns a document by tenant and relative path, or nil
// when absent.
func (s *Store) GetDocument(ctx context.Context, key tenant.Key, relativePath string) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.meta.getDocument(ctx, DocumentID(key, relativePath))
	if err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to read document", err)
	}
	return doc, nil
}

// Documents returns all documents for a tenant. Used to rebuild the
// link graph on activation.
func (s *Store) Documents(ctx context.Context, key tenant.Key) ([]*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, err := s.meta.documents(ctx, key)
	if err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to list documents", err)
	}
	return docs, nil
}

// List enumerates reconciliation entries for a tenant.
func (s *Store) List(ctx context.Context, key tenant.Key) ([]ListEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.meta.list(ctx, key)
	if err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to list documents", err)
	}
	return entries, nil
}

// CountByDocType counts a tenant's documents of one doc-type.
func (s *Store) CountByDocType(ctx context.Context, key tenant.Key, docType string) (int, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count, err := s.meta.countByDocType(ctx, key, docType)
	if err != nil {
		return 0, cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to count documents", err)
	}
	return count, nil
}

// UpdatePromotionLevel sets the promotion level on a document and all
// of its chunks.
func (s *Store) UpdatePromotionLevel(ctx context.Context, key tenant.Key, relativePath, level string) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docID := DocumentID(key, relativePath)
	doc, err := s.meta.getDocument(ctx, docID)
	if err != nil {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to read document", err)
	}
	if doc == nil {
		return cdocserr.Newf(cdocserr.TagDocumentNotFound, "no indexed document at %q", relativePath)
	}
	if err := s.meta.updatePromotion(ctx, docID, level); err != nil {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to update promotion level", err)
	}
	return nil
}

// SearchDocuments runs tenant-filtered ANN search over documents.
// Results are ranked by score descending.
func (s *Store) SearchDocuments(ctx context.Context, queryVec []float32, filter SearchFilter, topK int) ([]DocumentHit, error) {
	if err := filter.Tenant.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// The graph is tenant-agnostic, so over-fetch and post-filter
	// against metadata.
	raw, err := s.docVectors.Search(queryVec, overFetch(topK))
	if err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagVectorStoreError, "document search failed", err)
	}

	hits := make([]DocumentHit, 0, topK)
	for _, r := range raw {
		doc, err := s.meta.getDocument(ctx, r.ID)
		if err != nil {
			return nil, cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to resolve search hit", err)
		}
		if doc == nil || !matchesFilter(doc.Tenant, doc.DocType, doc.PromotionLevel, filter) {
			continue
		}
		hits = append(hits, DocumentHit{Document: doc, Score: r.Score})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// SearchChunks runs tenant-filtered ANN search over chunks.
func (s *Store) SearchChunks(ctx context.Context, queryVec []float32, filter SearchFilter, topK int) ([]ChunkHit, error) {
	if err := filter.Tenant.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.chunkVectors.Search(queryVec, overFetch(topK))
	if err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagVectorStoreError, "chunk search failed", err)
	}

	hits := make([]ChunkHit, 0, topK)
	for _, r := range raw {
		chunk, err := s.meta.getChunk(ctx, r.ID)
		if err != nil {
			return nil, cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to resolve search hit", err)
		}
		if chunk == nil {
			continue
		}
		parent, err := s.meta.getDocument(ctx, chunk.DocumentID)
		if err != nil {
			return nil, cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to resolve parent document", err)
		}
		if parent == nil || !matchesFilter(chunk.Tenant, parent.DocType, chunk.PromotionLevel, filter) {
			continue
		}
		hits = append(hits, ChunkHit{
			Chunk:         chunk,
			DocumentTitle: parent.Title,
			DocType:       parent.DocType,
			Score:         r.Score,
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// Save persists both vector graphs. SQLite is durable on commit.
func (s *Store) Save() error {
	if s.dir == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.docVectors.Save(filepath.Join(s.dir, docVectorFileName)); err != nil {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to save document index", err)
	}
	if err := s.chunkVectors.Save(filepath.Join(s.dir, chunkVectorFile)); err != nil {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to save chunk index", err)
	}
	return nil
}

// Close saves and releases everything.
func (s *Store) Close() error {
	saveErr := s.Save()

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.docVectors.Close()
	_ = s.chunkVectors.Close()
	closeErr := s.meta.Close()
	s.releaseLock()

	if saveErr != nil {
		return saveErr
	}
	if closeErr != nil {
		return cdocserr.Wrap(cdocserr.TagVectorStoreError, "failed to close metadata database", closeErr)
	}
	return nil
}

func (s *Store) releaseLock() {
	if s.lock != nil {
		_ = s.lock.Release()
		s.lock = nil
	}
}

func overFetch(topK int) int {
	k := topK * searchOverFetchMul
	if k < topK+searchOverFetchMin {
		k = topK + searchOverFetchMin
	}
	return k
}

func matchesFilter(key tenant.Key, docType, promotionLevel string, filter SearchFilter) bool {
	if key != filter.Tenant {
		return false
	}
	if len(filter.DocTypes) > 0 && !containsString(filter.DocTypes, docType) {
		return false
	}
	if len(filter.PromotionLevels) > 0 && !containsString(filter.PromotionLevels, promotionLevel) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
