package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/compounding-docs/cdocs/internal/tenant"
)

// metadataDB holds document and chunk rows in SQLite. The facade
// serializes writers; the connection pool is a single connection so
// SQLite never sees lock contention.
type metadataDB struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	project_name    TEXT NOT NULL,
	branch_name     TEXT NOT NULL,
	path_hash       TEXT NOT NULL,
	relative_path   TEXT NOT NULL,
	doc_type        TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	frontmatter     TEXT NOT NULL DEFAULT '{}',
	promotion_level TEXT NOT NULL DEFAULT 'standard',
	content         TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL,
	char_count      INTEGER NOT NULL DEFAULT 0,
	links           TEXT NOT NULL DEFAULT '[]',
	embedding       BLOB,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	UNIQUE(project_name, branch_name, path_hash, relative_path)
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant
	ON documents(project_name, branch_name, path_hash, doc_type);

CREATE TABLE IF NOT EXISTS chunks (
	id              TEXT PRIMARY KEY,
	document_id     TEXT NOT NULL,
	chunk_index     INTEGER NOT NULL,
	project_name    TEXT NOT NULL,
	branch_name     TEXT NOT NULL,
	path_hash       TEXT NOT NULL,
	relative_path   TEXT NOT NULL,
	header_path     TEXT NOT NULL DEFAULT '',
	text            TEXT NOT NULL,
	promotion_level TEXT NOT NULL DEFAULT 'standard',
	embedding       BLOB,
	UNIQUE(document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

// openMetadataDB opens (or creates) the database at path. An empty
// path opens an in-memory database for tests.
func openMetadataDB(path string) (*metadataDB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer prevents SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &metadataDB{db: db}, nil
}

func (m *metadataDB) Close() error {
	return m.db.Close()
}

// upsertTx writes a document and, when replaceChunks is set, replaces
// its chunk set, all in one transaction.
func (m *metadataDB) upsertTx(ctx context.Context, doc *Document, chunks []Chunk, replaceChunks bool) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fm, err := json.Marshal(doc.Frontmatter)
	if err != nil {
		return fmt.Errorf("marshal frontmatter: %w", err)
	}
	links, err := json.Marshal(doc.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = doc.UpdatedAt
	}

	// created_at is deliberately absent from the conflict clause so the
	// first insert's value survives re-indexing.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (
			id, project_name, branch_name, path_hash, relative_path,
			doc_type, title, summary, frontmatter, promotion_level,
			content, content_hash, char_count, links, embedding,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_type = excluded.doc_type,
			title = excluded.title,
			summary = excluded.summary,
			frontmatter = excluded.frontmatter,
			promotion_level = excluded.promotion_level,
			content = excluded.content,
			content_hash = excluded.content_hash,
			char_count = excluded.char_count,
			links = excluded.links,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Tenant.Project, doc.Tenant.Branch, doc.Tenant.PathHash,
		doc.RelativePath, doc.DocType, doc.Title, doc.Summary, string(fm),
		doc.PromotionLevel, doc.Content, doc.ContentHash, doc.CharCount,
		string(links), encodeVector(doc.Embedding),
		createdAt.UTC().Format(time.RFC3339Nano),
		doc.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if replaceChunks {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
			return fmt.Errorf("delete old chunks: %w", err)
		}
		for i := range chunks {
			c := &chunks[i]
			_, err := tx.ExecContext(ctx, `
				INSERT INTO chunks (
					id, document_id, chunk_index, project_name, branch_name,
					path_hash, relative_path, header_path, text,
					promotion_level, embedding
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, c.DocumentID, c.Index, c.Tenant.Project, c.Tenant.Branch,
				c.Tenant.PathHash, c.RelativePath, c.HeaderPath, c.Text,
				c.PromotionLevel, encodeVector(c.Embedding))
			if err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.Index, err)
			}
		}
	}

	return tx.Commit()
}

// deleteTx removes a document and its chunks in one transaction.
func (m *metadataDB) deleteTx(ctx context.Context, documentID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return tx.Commit()
}

const documentColumns = `
	id, project_name, branch_name, path_hash, relative_path,
	doc_type, title, summary, frontmatter, promotion_level,
	content, content_hash, char_count, links, embedding,
	created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var (
		doc        Document
		fm, links  string
		embedding  []byte
		createdRaw string
		updatedRaw string
	)
	err := row.Scan(&doc.ID, &doc.Tenant.Project, &doc.Tenant.Branch,
		&doc.Tenant.PathHash, &doc.RelativePath, &doc.DocType, &doc.Title,
		&doc.Summary, &fm, &doc.PromotionLevel, &doc.Content,
		&doc.ContentHash, &doc.CharCount, &links, &embedding,
		&createdRaw, &updatedRaw)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fm), &doc.Frontmatter); err != nil {
		return nil, fmt.Errorf("decode frontmatter for %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal([]byte(links), &doc.Links); err != nil {
		return nil, fmt.Errorf("decode links for %s: %w", doc.ID, err)
	}
	doc.Embedding = decodeVector(embedding)
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		doc.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		doc.UpdatedAt = t
	}
	return &doc, nil
}

// getDocument fetches a document by ID. Returns nil, nil when absent.
func (m *metadataDB) getDocument(ctx context.Context, id string) (*Document, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

// getDocuments fetches documents by ID, preserving request order and
// skipping missing IDs.
func (m *metadataDB) getDocuments(ctx context.Context, ids []string) (map[string]*Document, error) {
	out := make(map[string]*Document, len(ids))
	for _, id := range ids {
		doc, err := m.getDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			out[id] = doc
		}
	}
	return out, nil
}

const chunkColumns = `
	id, document_id, chunk_index, project_name, branch_name,
	path_hash, relative_path, header_path, text, promotion_level, embedding`

func scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	var (
		c         Chunk
		embedding []byte
	)
	err := row.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Tenant.Project,
		&c.Tenant.Branch, &c.Tenant.PathHash, &c.RelativePath,
		&c.HeaderPath, &c.Text, &c.PromotionLevel, &embedding)
	if err != nil {
		return nil, err
	}
	c.Embedding = decodeVector(embedding)
	return &c, nil
}

func (m *metadataDB) getChunk(ctx context.Context, id string) (*Chunk, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chunk: %w", err)
	}
	return c, nil
}

func (m *metadataDB) chunkIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// list enumerates reconciliation entries for a tenant.
func (m *metadataDB) list(ctx context.Context, key tenant.Key) ([]ListEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT relative_path, content_hash, updated_at FROM documents
		WHERE project_name = ? AND branch_name = ? AND path_hash = ?
		ORDER BY relative_path`,
		key.Project, key.Branch, key.PathHash)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var entries []ListEntry
	for rows.Next() {
		var e ListEntry
		var updatedRaw string
		if err := rows.Scan(&e.RelativePath, &e.ContentHash, &updatedRaw); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
			e.UpdatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (m *metadataDB) countByDocType(ctx context.Context, key tenant.Key, docType string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents
		WHERE project_name = ? AND branch_name = ? AND path_hash = ? AND doc_type = ?`,
		key.Project, key.Branch, key.PathHash, docType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// documents returns all documents for a tenant without content, used
// to rebuild the link graph on startup.
func (m *metadataDB) documents(ctx context.Context, key tenant.Key) ([]*Document, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		WHERE project_name = ? AND branch_name = ? AND path_hash = ?`,
		key.Project, key.Branch, key.PathHash)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// updatePromotion sets the promotion level on a document and its
// chunks in one transaction.
func (m *metadataDB) updatePromotion(ctx context.Context, documentID, level string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET promotion_level = ? WHERE id = ?`, level, documentID); err != nil {
		return fmt.Errorf("update document promotion: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chunks SET promotion_level = ? WHERE document_id = ?`, level, documentID); err != nil {
		return fmt.Errorf("update chunk promotion: %w", err)
	}
	return tx.Commit()
}

// embeddingRow is one persisted vector, used to rebuild HNSW graphs
// when the index files are missing or stale.
type embeddingRow struct {
	ID     string
	Vector []float32
}

func (m *metadataDB) allEmbeddings(ctx context.Context, table string) ([]embeddingRow, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, embedding FROM `+table+` WHERE embedding IS NOT NULL AND length(embedding) > 0`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var out []embeddingRow
	for rows.Next() {
		var r embeddingRow
		var blob []byte
		if err := rows.Scan(&r.ID, &blob); err != nil {
			return nil, err
		}
		r.Vector = decodeVector(blob)
		out = append(out, r)
	}
	return out, rows.Err()
}

// encodeVector packs float32s as little-endian bytes. Nil for empty.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks little-endian float32 bytes. Nil for empty.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
