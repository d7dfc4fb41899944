// Package embed turns text into fixed-length unit vectors through a
// pluggable backend, with probe-and-fallback selection.
package embed

import "context"

// Backend names understood by the service.
const (
	BackendRemote   = "remote"
	BackendPortable = "portable"
)

// Backend is a loaded embedding model handle. Implementations are owned
// exclusively by one Service; Close releases the handle before a reload.
type Backend interface {
	// Name identifies the backend implementation.
	Name() string
	// Probe verifies the backend is usable without generating a vector.
	Probe(ctx context.Context) error
	// Embed produces a fixed-length vector for the text. The service
	// L2-normalizes the result, so implementations need not.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the vector length this backend produces.
	Dimensions() int
	// Close releases the model handle.
	Close() error
}

// Builder constructs a backend for a model identifier.
type Builder func(model string, dimensions int) (Backend, error)

// Config selects the model and the execution backend.
type Config struct {
	Model      string
	Preferred  string // backend name tried first; portable is the fallback
	Dimensions int
}
