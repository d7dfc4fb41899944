// Package sqlite persists document embeddings in an embedded SQLite
// database: one primary table keyed by id with secondary indexes over
// owner, document type, region code, and category tag. All writes go
// through transactions; WAL mode allows concurrent readers alongside
// the single writer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fieldsense/semindex/internal/domain"
)

// SchemaVersion tags the on-disk layout, reported through Stats.
const SchemaVersion = "1"

const schema = `
CREATE TABLE IF NOT EXISTS document_embeddings (
	id           TEXT PRIMARY KEY CHECK (id <> ''),
	text         TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	doc_type     TEXT NOT NULL,
	owner_id     TEXT NOT NULL,
	region_code  TEXT NOT NULL DEFAULT '',
	category_tag TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	embedding    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_owner ON document_embeddings(owner_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_type ON document_embeddings(doc_type);
CREATE INDEX IF NOT EXISTS idx_embeddings_region ON document_embeddings(region_code);
CREATE INDEX IF NOT EXISTS idx_embeddings_category ON document_embeddings(category_tag);
`

const upsertSQL = `
INSERT INTO document_embeddings
	(id, text, title, doc_type, owner_id, region_code, category_tag, created_at, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	text         = excluded.text,
	title        = excluded.title,
	doc_type     = excluded.doc_type,
	owner_id     = excluded.owner_id,
	region_code  = excluded.region_code,
	category_tag = excluded.category_tag,
	created_at   = excluded.created_at,
	embedding    = excluded.embedding
`

const selectCols = "id, text, title, doc_type, owner_id, region_code, category_tag, created_at, embedding"

// Store is the persistent vector store. Create with Open, then
// Initialize before use; Close when done.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates the store handle for a database file, creating the file
// on first write. Returns ErrStorageUnavailable if the driver rejects
// the path outright.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, domain.ErrStorageUnavailable)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

// Initialize applies the schema. Idempotent: a second call on an open
// store is a no-op. Failure is fatal to the store instance.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %v: %w", err, domain.ErrStorageUnavailable)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %v: %w", err, domain.ErrStorageUnavailable)
	}
	return nil
}

// Put upserts one document.
func (s *Store) Put(ctx context.Context, doc domain.DocumentEmbedding) error {
	_, err := s.db.ExecContext(ctx, upsertSQL, upsertArgs(doc)...)
	if err != nil {
		return fmt.Errorf("put %s: %w", doc.ID, err)
	}
	return nil
}

// PutMany upserts a batch in a single transaction: either every
// document becomes visible or none does. Returns the count written.
func (s *Store) PutMany(ctx context.Context, docs []domain.DocumentEmbedding) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare batch upsert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		if _, err := stmt.ExecContext(ctx, upsertArgs(doc)...); err != nil {
			return 0, fmt.Errorf("batch put %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return len(docs), nil
}

// Get returns a document by id, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*domain.DocumentEmbedding, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectCols+" FROM document_embeddings WHERE id = ?", id)

	doc, err := scanDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return &doc, nil
}

// GetAll returns every stored document (full scan).
func (s *Store) GetAll(ctx context.Context) ([]domain.DocumentEmbedding, error) {
	return s.query(ctx, "SELECT "+selectCols+" FROM document_embeddings")
}

// GetByOwner returns all documents belonging to an owner (index-backed).
func (s *Store) GetByOwner(ctx context.Context, ownerID string) ([]domain.DocumentEmbedding, error) {
	return s.query(ctx,
		"SELECT "+selectCols+" FROM document_embeddings WHERE owner_id = ?", ownerID)
}

// GetByType returns all documents of one type (index-backed). Callers
// filter by owner client-side; there is no compound index.
func (s *Store) GetByType(ctx context.Context, docType string) ([]domain.DocumentEmbedding, error) {
	return s.query(ctx,
		"SELECT "+selectCols+" FROM document_embeddings WHERE doc_type = ?", docType)
}

// Delete removes one document. Silently succeeds if absent.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM document_embeddings WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// DeleteByOwner removes all of an owner's documents as a best-effort
// bulk operation: each row delete is atomic and retried once, but a
// crash mid-run may leave a partial subset removed. Returns the count
// deleted.
func (s *Store) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM document_embeddings WHERE owner_id = ?", ownerID)
	if err != nil {
		return 0, fmt.Errorf("list owner documents: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate ids: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		err := s.Delete(ctx, id)
		if err != nil {
			s.logger.Warn("Retrying document delete", zap.String("id", id), zap.Error(err))
			err = s.Delete(ctx, id)
		}
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

// Clear removes all documents.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM document_embeddings"); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_embeddings").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Stats reports corpus totals. The size estimate counts text bytes plus
// 8 bytes per vector element (blobs hold 4-byte floats, hence *2).
// LastUpdated is the newest CreatedAt, or now for an empty store.
func (s *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	var (
		count   int
		size    sql.NullInt64
		maxUnix sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(LENGTH(text) + LENGTH(embedding) * 2),
		       MAX(created_at)
		FROM document_embeddings
	`).Scan(&count, &size, &maxUnix)
	if err != nil {
		return domain.StoreStats{}, fmt.Errorf("query stats: %w", err)
	}

	lastUpdated := time.Now().UTC()
	if maxUnix.Valid {
		lastUpdated = time.Unix(0, maxUnix.Int64).UTC()
	}

	return domain.StoreStats{
		TotalDocuments:    count,
		TotalSizeEstimate: size.Int64,
		LastUpdated:       lastUpdated,
		SchemaVersion:     SchemaVersion,
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.DocumentEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.DocumentEmbedding
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func upsertArgs(doc domain.DocumentEmbedding) []any {
	return []any{
		doc.ID,
		doc.Text,
		doc.Metadata.Title,
		doc.Metadata.Type,
		doc.Metadata.OwnerID,
		doc.Metadata.RegionCode,
		doc.Metadata.CategoryTag,
		doc.Metadata.CreatedAt.UnixNano(),
		vectorToBytes(doc.Embedding),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDoc(row scanner) (domain.DocumentEmbedding, error) {
	var (
		doc      domain.DocumentEmbedding
		unixNano int64
		blob     []byte
	)
	err := row.Scan(
		&doc.ID,
		&doc.Text,
		&doc.Metadata.Title,
		&doc.Metadata.Type,
		&doc.Metadata.OwnerID,
		&doc.Metadata.RegionCode,
		&doc.Metadata.CategoryTag,
		&unixNano,
		&blob,
	)
	if err != nil {
		return domain.DocumentEmbedding{}, err
	}

	doc.Metadata.CreatedAt = time.Unix(0, unixNano).UTC()
	doc.Embedding, err = bytesToVector(blob)
	if err != nil {
		return domain.DocumentEmbedding{}, err
	}
	return doc, nil
}
