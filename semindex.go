// Package semindex is a local-first semantic document index: it embeds
// text through a pluggable backend, persists the vectors in an embedded
// store with secondary lookups, and answers filtered nearest-neighbor
// queries in-process, without a server round-trip.
package semindex

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsense/semindex/internal/domain"
	"github.com/fieldsense/semindex/internal/metrics"
	"github.com/fieldsense/semindex/internal/rank"
)

// Re-exported domain types: hosts interact with the index through these.
type (
	Document          = domain.Document
	DocumentEmbedding = domain.DocumentEmbedding
	Metadata          = domain.Metadata
	SearchResult      = domain.SearchResult
	SearchOptions     = domain.SearchOptions
	StoreStats        = domain.StoreStats
)

// Re-exported sentinel errors.
var (
	ErrInitialization     = domain.ErrInitialization
	ErrNotInitialized     = domain.ErrNotInitialized
	ErrEmbedding          = domain.ErrEmbedding
	ErrDimensionMismatch  = domain.ErrDimensionMismatch
	ErrStorageUnavailable = domain.ErrStorageUnavailable
	ErrImportFormat       = domain.ErrImportFormat
	ErrUnauthenticated    = domain.ErrUnauthenticated
	ErrIndexing           = domain.ErrIndexing
	ErrSearchFailed       = domain.ErrSearchFailed
)

// vectorStore is the consumer contract for the persistence engine.
type vectorStore interface {
	Initialize(ctx context.Context) error
	PutMany(ctx context.Context, docs []domain.DocumentEmbedding) (int, error)
	Get(ctx context.Context, id string) (*domain.DocumentEmbedding, error)
	GetAll(ctx context.Context) ([]domain.DocumentEmbedding, error)
	GetByOwner(ctx context.Context, ownerID string) ([]domain.DocumentEmbedding, error)
	GetByType(ctx context.Context, docType string) ([]domain.DocumentEmbedding, error)
	Delete(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, ownerID string) (int, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (domain.StoreStats, error)
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, blob []byte) (int, error)
	Close() error
}

// embedder is the consumer contract for the embedding backend adapter.
type embedder interface {
	Initialize(ctx context.Context) error
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateDocumentEmbedding(ctx context.Context, id, text string, meta domain.Metadata) (domain.DocumentEmbedding, error)
	IsAvailable() bool
	Close() error
}

// Status is a snapshot of the orchestrator state facets, for host
// polling. Indexing and Searching are never both true for one Index.
type Status struct {
	Initialized      bool
	Indexing         bool
	Searching        bool
	IndexingProgress int // 0-100
	DocumentCount    int
	LastError        string
}

// Index coordinates the embedding backend, the vector store, and the
// ranker behind one stateful facade. One logical operation runs at a
// time per Index; concurrent instances over the same store are
// last-write-wins on colliding ids.
type Index struct {
	store    vectorStore
	embedder embedder
	logger   *zap.Logger

	opMu sync.Mutex // serializes indexing and search

	stateMu     sync.Mutex
	owner       string
	initialized bool
	indexing    bool
	searching   bool
	progress    int
	docCount    int
	lastErr     error
}

// New assembles an Index from options. See Options for wiring a store
// path and an embedding backend; the zero configuration runs fully
// offline on the portable backend.
func New(opts ...Option) (*Index, error) {
	cfg := defaultOptions()
	for _, o := range opts {
		o(&cfg)
	}

	idx := &Index{logger: cfg.logger}
	var err error
	if idx.store, err = cfg.buildStore(); err != nil {
		return nil, err
	}
	idx.embedder = cfg.buildEmbedder()
	return idx, nil
}

// Initialize loads the embedding backend and opens the store
// concurrently. On failure the Index records the error and stays
// retryable. Returns the current document count on success.
func (i *Index) Initialize(ctx context.Context) (int, error) {
	errc := make(chan error, 2)
	go func() { errc <- i.embedder.Initialize(ctx) }()
	go func() { errc <- i.store.Initialize(ctx) }()

	var firstErr error
	for n := 0; n < 2; n++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		i.setError(firstErr)
		i.setInitialized(false)
		return 0, fmt.Errorf("initialize index: %w", firstErr)
	}

	count, err := i.store.Count(ctx)
	if err != nil {
		i.setError(err)
		i.setInitialized(false)
		return 0, fmt.Errorf("count documents: %w", err)
	}

	i.stateMu.Lock()
	i.initialized = true
	i.docCount = count
	i.lastErr = nil
	i.stateMu.Unlock()
	metrics.StoredDocuments.Set(float64(count))

	i.logger.Info("Index initialized", zap.Int("documents", count))
	return count, nil
}

// SetOwner supplies the host-authenticated principal. When an owner
// becomes available and the Index is neither initialized nor in an
// error state, it initializes itself once; after a failure the host
// must re-trigger Initialize explicitly.
func (i *Index) SetOwner(ctx context.Context, ownerID string) {
	i.stateMu.Lock()
	i.owner = ownerID
	autoInit := ownerID != "" && !i.initialized && i.lastErr == nil
	i.stateMu.Unlock()

	if autoInit {
		if _, err := i.Initialize(ctx); err != nil {
			i.logger.Warn("Auto-initialization failed", zap.Error(err))
		}
	}
}

// Owner returns the current owner identity, empty if unauthenticated.
func (i *Index) Owner() string {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()
	return i.owner
}

// IndexDocuments embeds docs strictly in input order and writes them as
// one atomic batch. Progress is reported through Status as each
// document starts. Any per-document failure rejects the whole call with
// ErrIndexing and nothing is written. Cancelling ctx between documents
// aborts the same way.
func (i *Index) IndexDocuments(ctx context.Context, docs []domain.Document) (int, error) {
	owner := i.Owner()
	if owner == "" {
		return 0, fmt.Errorf("index documents: %w", domain.ErrUnauthenticated)
	}

	i.opMu.Lock()
	defer i.opMu.Unlock()

	i.setIndexing(true)
	i.setProgress(0)
	defer i.setIndexing(false)

	total := len(docs)
	embedded := make([]domain.DocumentEmbedding, 0, total)
	for n, doc := range docs {
		i.setProgress(int(math.Round(float64(n+1) / float64(total) * 100)))

		if err := ctx.Err(); err != nil {
			i.setError(err)
			metrics.DocumentsIndexedTotal.WithLabelValues("error").Add(float64(total))
			return 0, fmt.Errorf("indexing cancelled after %d of %d: %w: %w", n, total, err, domain.ErrIndexing)
		}

		// Owner isolation: the caller's identity wins over whatever
		// the host put in the metadata.
		meta := doc.Meta
		meta.OwnerID = owner

		emb, err := i.embedder.GenerateDocumentEmbedding(ctx, doc.ID, doc.Text, meta)
		if err != nil {
			i.setError(err)
			metrics.DocumentsIndexedTotal.WithLabelValues("error").Add(float64(total))
			return 0, fmt.Errorf("embed document %d of %d: %w: %w", n+1, total, err, domain.ErrIndexing)
		}
		embedded = append(embedded, emb)
	}

	count, err := i.store.PutMany(ctx, embedded)
	if err != nil {
		i.setError(err)
		metrics.DocumentsIndexedTotal.WithLabelValues("error").Add(float64(total))
		return 0, fmt.Errorf("write batch: %w: %w", err, domain.ErrIndexing)
	}

	metrics.DocumentsIndexedTotal.WithLabelValues("success").Add(float64(count))
	i.setProgress(100)
	i.refreshCount(ctx)
	i.logger.Info("Indexed documents", zap.Int("count", count), zap.String("owner", owner))
	return count, nil
}

// SearchSimilar embeds the query, resolves the candidate set from the
// store, and ranks by cosine similarity. Failures degrade to an empty
// result list plus an ErrSearchFailed-wrapped error, so hosts can treat
// a failed search as "no matches" or surface it, as they prefer.
func (i *Index) SearchSimilar(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	owner := i.Owner()
	if owner == "" {
		return nil, fmt.Errorf("search: %w", domain.ErrUnauthenticated)
	}

	i.opMu.Lock()
	defer i.opMu.Unlock()

	i.setSearching(true)
	defer i.setSearching(false)

	start := time.Now()
	results, err := i.search(ctx, owner, query, opts)
	if err != nil {
		i.setError(err)
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		i.logger.Warn("Search degraded to empty results", zap.Error(err))
		return []domain.SearchResult{}, fmt.Errorf("%w: %w", err, domain.ErrSearchFailed)
	}

	metrics.SearchesTotal.WithLabelValues("success").Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	return results, nil
}

func (i *Index) search(ctx context.Context, owner, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	queryVec, err := i.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := i.resolveCandidates(ctx, owner, opts)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = domain.DefaultSearchLimit
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = domain.DefaultSearchThreshold
	}

	results, err := rank.BySimilarity(queryVec, candidates, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("rank candidates: %w", err)
	}
	return results, nil
}

// resolveCandidates fetches the owner's documents, using the type index
// when type filters are present, then applies region and category
// predicates in memory.
func (i *Index) resolveCandidates(ctx context.Context, owner string, opts domain.SearchOptions) ([]domain.DocumentEmbedding, error) {
	var candidates []domain.DocumentEmbedding

	if len(opts.DocumentTypes) > 0 {
		seen := make(map[string]struct{})
		for _, docType := range opts.DocumentTypes {
			docs, err := i.store.GetByType(ctx, docType)
			if err != nil {
				return nil, fmt.Errorf("fetch type %s: %w", docType, err)
			}
			for _, d := range docs {
				if d.Metadata.OwnerID != owner {
					continue
				}
				if _, dup := seen[d.ID]; dup {
					continue
				}
				seen[d.ID] = struct{}{}
				candidates = append(candidates, d)
			}
		}
	} else {
		docs, err := i.store.GetByOwner(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("fetch owner documents: %w", err)
		}
		candidates = docs
	}

	if opts.RegionCode != "" {
		candidates = filterDocs(candidates, func(d domain.DocumentEmbedding) bool {
			return d.Metadata.RegionCode == opts.RegionCode
		})
	}
	if opts.CategoryTag != "" {
		candidates = filterDocs(candidates, func(d domain.DocumentEmbedding) bool {
			return d.Metadata.CategoryTag == opts.CategoryTag
		})
	}
	return candidates, nil
}

// ClearOwnerIndex deletes all of the current owner's documents and
// refreshes the reported document count.
func (i *Index) ClearOwnerIndex(ctx context.Context) (int, error) {
	owner := i.Owner()
	if owner == "" {
		return 0, fmt.Errorf("clear index: %w", domain.ErrUnauthenticated)
	}

	deleted, err := i.store.DeleteByOwner(ctx, owner)
	if err != nil {
		i.setError(err)
		return deleted, fmt.Errorf("clear owner index: %w", err)
	}

	i.refreshCount(ctx)
	i.logger.Info("Cleared owner index", zap.String("owner", owner), zap.Int("deleted", deleted))
	return deleted, nil
}

// DocumentCount returns the last observed number of stored documents.
func (i *Index) DocumentCount() int {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()
	return i.docCount
}

// Stats reports persisted-corpus totals.
func (i *Index) Stats(ctx context.Context) (domain.StoreStats, error) {
	return i.store.Stats(ctx)
}

// Export serializes the whole store into a versioned snapshot blob.
func (i *Index) Export(ctx context.Context) ([]byte, error) {
	return i.store.Export(ctx)
}

// Import restores documents from a snapshot blob and refreshes the
// document count. Returns the number restored.
func (i *Index) Import(ctx context.Context, blob []byte) (int, error) {
	n, err := i.store.Import(ctx, blob)
	if err != nil {
		return 0, err
	}
	i.refreshCount(ctx)
	return n, nil
}

// Status returns a snapshot of the state facets.
func (i *Index) Status() Status {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()

	st := Status{
		Initialized:      i.initialized,
		Indexing:         i.indexing,
		Searching:        i.searching,
		IndexingProgress: i.progress,
		DocumentCount:    i.docCount,
	}
	if i.lastErr != nil {
		st.LastError = i.lastErr.Error()
	}
	return st
}

// EmbedderAvailable reports whether a usable embedding backend is
// loaded, without triggering lazy initialization.
func (i *Index) EmbedderAvailable() bool {
	return i.embedder.IsAvailable()
}

// Close releases the backend handle and the store.
func (i *Index) Close() error {
	embErr := i.embedder.Close()
	storeErr := i.store.Close()
	if embErr != nil {
		return embErr
	}
	return storeErr
}

func (i *Index) refreshCount(ctx context.Context) {
	count, err := i.store.Count(ctx)
	if err != nil {
		i.logger.Warn("Failed to refresh document count", zap.Error(err))
		return
	}
	i.stateMu.Lock()
	i.docCount = count
	i.stateMu.Unlock()
	metrics.StoredDocuments.Set(float64(count))
}

func (i *Index) setInitialized(v bool) {
	i.stateMu.Lock()
	i.initialized = v
	i.stateMu.Unlock()
}

func (i *Index) setIndexing(v bool) {
	i.stateMu.Lock()
	i.indexing = v
	i.stateMu.Unlock()
}

func (i *Index) setSearching(v bool) {
	i.stateMu.Lock()
	i.searching = v
	i.stateMu.Unlock()
}

func (i *Index) setProgress(p int) {
	i.stateMu.Lock()
	i.progress = p
	i.stateMu.Unlock()
}

func (i *Index) setError(err error) {
	i.stateMu.Lock()
	i.lastErr = err
	i.stateMu.Unlock()
}

func filterDocs(docs []domain.DocumentEmbedding, keep func(domain.DocumentEmbedding) bool) []domain.DocumentEmbedding {
	filtered := docs[:0]
	for _, d := range docs {
		if keep(d) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}
