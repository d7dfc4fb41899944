package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldsense/semindex/internal/domain"
)

// ExportVersion tags the snapshot blob format.
const ExportVersion = "1.0"

// snapshot is the whole-store export blob:
// {"version":"1.0","exported":<RFC3339>,"embeddings":[...]}.
type snapshot struct {
	Version    string                     `json:"version"`
	Exported   time.Time                  `json:"exported"`
	Embeddings []domain.DocumentEmbedding `json:"embeddings"`
}

// Export serializes the whole store into a versioned UTF-8 JSON blob.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	docs, err := s.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("export scan: %w", err)
	}
	if docs == nil {
		docs = []domain.DocumentEmbedding{}
	}

	blob, err := json.Marshal(snapshot{
		Version:    ExportVersion,
		Exported:   time.Now().UTC(),
		Embeddings: docs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return blob, nil
}

// Import bulk-upserts all documents from an exported blob and returns
// the count restored. A blob without the expected top-level shape is
// rejected with ErrImportFormat.
func (s *Store) Import(ctx context.Context, blob []byte) (int, error) {
	var raw struct {
		Version    string           `json:"version"`
		Embeddings *json.RawMessage `json:"embeddings"`
	}
	if err := json.Unmarshal(blob, &raw); err != nil {
		return 0, fmt.Errorf("parse snapshot: %v: %w", err, domain.ErrImportFormat)
	}
	if raw.Version == "" || raw.Embeddings == nil {
		return 0, fmt.Errorf("missing version or embeddings: %w", domain.ErrImportFormat)
	}

	var docs []domain.DocumentEmbedding
	if err := json.Unmarshal(*raw.Embeddings, &docs); err != nil {
		return 0, fmt.Errorf("parse embeddings: %v: %w", err, domain.ErrImportFormat)
	}

	count, err := s.PutMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("restore snapshot: %w", err)
	}
	return count, nil
}
