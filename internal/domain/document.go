package domain

import "time"

// Known document types. The store treats the type as an opaque indexed
// string, so hosts may introduce new ones without a schema change.
const (
	TypeSoilAnalysis = "soil_analysis"
	TypeWaterQuality = "water_quality"
	TypeFieldRecord  = "field_record"
	TypeCropNote     = "crop_note"
)

// Metadata describes a stored document beyond its text and vector.
type Metadata struct {
	Type        string    `json:"type"`
	OwnerID     string    `json:"ownerId"`
	RegionCode  string    `json:"regionCode,omitempty"`
	CategoryTag string    `json:"categoryTag,omitempty"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DocumentEmbedding is the unit of storage: a document's normalized text
// plus its fixed-length embedding vector. ID is the primary key; puts are
// upserts keyed on it.
type DocumentEmbedding struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	Metadata  Metadata  `json:"metadata"`
}

// Document is a raw ingestion input before vectorization.
type Document struct {
	ID   string
	Text string
	Meta Metadata
}

// SearchResult pairs a stored document with its similarity to a query.
// Ephemeral: produced fresh per query, never persisted.
type SearchResult struct {
	Document   DocumentEmbedding
	Similarity float64
}

// SearchOptions narrow and bound a similarity search.
// Zero values mean "no filter" / "use defaults".
type SearchOptions struct {
	DocumentTypes []string
	RegionCode    string
	CategoryTag   string
	Limit         int     // default 10
	Threshold     float64 // default 0.5; results strictly below are dropped
}

// Defaults applied when SearchOptions leaves limit/threshold unset.
const (
	DefaultSearchLimit     = 10
	DefaultSearchThreshold = 0.5
)

// StoreStats summarizes the persisted corpus for host-facing reporting.
// TotalSizeEstimate counts text bytes plus 8 bytes per vector element; it
// is a human-facing estimate, not a billing figure.
type StoreStats struct {
	TotalDocuments    int       `json:"totalDocuments"`
	TotalSizeEstimate int64     `json:"totalSizeEstimate"`
	LastUpdated       time.Time `json:"lastUpdated"`
	SchemaVersion     string    `json:"schemaVersion"`
}
