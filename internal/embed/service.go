package embed

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldsense/semindex/internal/domain"
	"github.com/fieldsense/semindex/internal/normalize"
)

// Service owns the loaded backend handle and exposes the embedding
// operations. Lifecycle: New -> Initialize -> use -> Close. Construct
// independent instances per caller; there is no process-wide state.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	builders map[string]Builder
	backend  Backend
	logger   *zap.Logger
}

// NewService creates an embedding service. builders maps backend names
// to constructors; a portable builder is supplied if missing so the
// fallback is always available.
func NewService(cfg Config, builders map[string]Builder, logger *zap.Logger) *Service {
	if builders == nil {
		builders = map[string]Builder{}
	}
	if _, ok := builders[BackendPortable]; !ok {
		builders[BackendPortable] = func(model string, dims int) (Backend, error) {
			return NewPortable(model, dims), nil
		}
	}
	if cfg.Preferred == "" {
		cfg.Preferred = BackendPortable
	}
	return &Service{cfg: cfg, builders: builders, logger: logger}
}

// Initialize loads a backend for the configured model. Idempotent when
// already initialized: a second call is a no-op. The preferred backend
// is probed first; on any probe or build failure the service falls back
// to the portable backend. Returns ErrInitialization when no backend
// loads at all.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		return nil
	}
	return s.loadLocked(ctx)
}

// Reconfigure swaps the model or backend preference. The previous
// handle is fully released before the new one loads; the service is
// left uninitialized if the reload fails.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil && cfg == s.cfg {
		return nil
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("Failed to close previous backend", zap.Error(err))
		}
		s.backend = nil
	}
	if cfg.Preferred == "" {
		cfg.Preferred = BackendPortable
	}
	s.cfg = cfg
	return s.loadLocked(ctx)
}

// loadLocked probes and selects a backend. Callers hold s.mu.
func (s *Service) loadLocked(ctx context.Context) error {
	names := []string{s.cfg.Preferred}
	if s.cfg.Preferred != BackendPortable {
		names = append(names, BackendPortable)
	}

	var lastErr error
	for _, name := range names {
		build, ok := s.builders[name]
		if !ok {
			lastErr = fmt.Errorf("no builder for backend %q", name)
			continue
		}
		b, err := build(s.cfg.Model, s.cfg.Dimensions)
		if err != nil {
			lastErr = fmt.Errorf("build backend %s: %w", name, err)
			s.logger.Warn("Backend unavailable", zap.String("backend", name), zap.Error(err))
			continue
		}
		if err := b.Probe(ctx); err != nil {
			lastErr = fmt.Errorf("probe backend %s: %w", name, err)
			s.logger.Warn("Backend probe failed, falling back",
				zap.String("backend", name), zap.Error(err))
			_ = b.Close()
			continue
		}

		s.backend = b
		s.logger.Info("Embedding backend loaded",
			zap.String("backend", b.Name()),
			zap.String("model", s.cfg.Model),
			zap.Int("dimensions", b.Dimensions()),
		)
		return nil
	}

	return fmt.Errorf("no embedding backend available: %v: %w", lastErr, domain.ErrInitialization)
}

// IsAvailable reports whether a backend is currently loaded, without
// triggering lazy initialization.
func (s *Service) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend != nil
}

// GenerateEmbedding normalizes the text and produces a unit-length
// vector. Initializes lazily if needed.
func (s *Service) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	if s.backend == nil {
		if err := s.loadLocked(ctx); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	b := s.backend
	s.mu.Unlock()

	vec, err := b.Embed(ctx, normalize.Normalize(text))
	if err != nil {
		return nil, fmt.Errorf("embed text: %w: %w", err, domain.ErrEmbedding)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("backend %s produced no output: %w", b.Name(), domain.ErrEmbedding)
	}
	return l2Normalize(vec), nil
}

// Embed implements domain.Embedder.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.GenerateEmbedding(ctx, text)
}

// BatchEmbed implements domain.BatchEmbedder by embedding serially:
// generation is backend-bound, so texts are never overlapped.
func (s *Service) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	return domain.BatchFallback(ctx, s, texts)
}

var (
	_ domain.Embedder      = (*Service)(nil)
	_ domain.BatchEmbedder = (*Service)(nil)
)

// GenerateDocumentEmbedding embeds text and assembles the storable
// record. An empty id gets a generated one; a zero CreatedAt is stamped
// now. No failure modes beyond the embedding call itself.
func (s *Service) GenerateDocumentEmbedding(
	ctx context.Context, id, text string, meta domain.Metadata,
) (domain.DocumentEmbedding, error) {
	vec, err := s.GenerateEmbedding(ctx, text)
	if err != nil {
		return domain.DocumentEmbedding{}, err
	}

	if id == "" {
		id = uuid.NewString()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	return domain.DocumentEmbedding{
		ID:        id,
		Text:      normalize.Normalize(text),
		Embedding: vec,
		Metadata:  meta,
	}, nil
}

// Close releases the backend handle. The service may be re-initialized
// afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

// l2Normalize scales a vector to unit length, making cosine similarity
// equivalent to a dot product. A zero vector is returned unchanged.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
