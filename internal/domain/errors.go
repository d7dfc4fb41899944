package domain

import "errors"

var (
	// ErrInitialization signals that the embedding backend or the store
	// failed to load. Fatal until the caller retries initialization.
	ErrInitialization = errors.New("initialization failed")
	// ErrNotInitialized signals use of a component before initialization.
	ErrNotInitialized = errors.New("not initialized")
	// ErrEmbedding signals a failed text-to-vector call.
	ErrEmbedding = errors.New("embedding failed")
	// ErrDimensionMismatch signals similarity over vectors of unequal
	// length. Always a caller/config bug (mixed models).
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrStorageUnavailable signals that the persistent medium could not
	// be opened.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrImportFormat signals a malformed export blob on import.
	ErrImportFormat = errors.New("invalid import format")
	// ErrUnauthenticated signals indexing or search without an owner
	// identity.
	ErrUnauthenticated = errors.New("no authenticated owner")
	// ErrIndexing signals a failed ingestion batch; no partial write
	// happened.
	ErrIndexing = errors.New("indexing failed")
	// ErrSearchFailed signals a degraded search that returned no results
	// because of an internal failure, not an empty match set.
	ErrSearchFailed = errors.New("search failed")
)
