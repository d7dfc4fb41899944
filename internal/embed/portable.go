package embed

import (
	"context"
	"hash/fnv"
	"strings"
)

// Portable is the dependency-free fallback backend: a deterministic
// token-hash projection. Each whitespace-separated token is hashed into
// one of dim buckets and counted. Crude next to a transformer, but
// stable within a session, cheap, and good enough for overlap-driven
// similarity when no accelerated backend is reachable.
type Portable struct {
	model string
	dim   int
}

// NewPortable creates the portable backend. A non-positive dimension
// falls back to 256.
func NewPortable(model string, dimensions int) *Portable {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &Portable{model: model, dim: dimensions}
}

func (p *Portable) Name() string { return BackendPortable }

// Probe always succeeds; the portable backend has no external dependency.
func (p *Portable) Probe(_ context.Context) error { return nil }

// Embed hashes lowercased tokens into dim buckets. The vector is raw
// term counts; the service normalizes to unit length.
func (p *Portable) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%uint32(p.dim)]++
	}
	return vec, nil
}

func (p *Portable) Dimensions() int { return p.dim }

func (p *Portable) Close() error { return nil }
