package embed

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldsense/semindex/internal/domain"
)

// --- Mocks ---

type fakeBackend struct {
	name     string
	probeErr error
	embedVec []float32
	embedErr error
	closed   bool
	embCalls int
}

func (f *fakeBackend) Name() string                  { return f.name }
func (f *fakeBackend) Probe(_ context.Context) error { return f.probeErr }
func (f *fakeBackend) Embed(_ context.Context, _ string) ([]float32, error) {
	f.embCalls++
	return f.embedVec, f.embedErr
}
func (f *fakeBackend) Dimensions() int { return len(f.embedVec) }
func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func builderFor(b Backend, err error, calls *int) Builder {
	return func(_ string, _ int) (Backend, error) {
		if calls != nil {
			*calls++
		}
		return b, err
	}
}

func TestInitialize_PrefersRemote(t *testing.T) {
	remote := &fakeBackend{name: BackendRemote, embedVec: []float32{1, 0}}
	svc := NewService(
		Config{Model: "m", Preferred: BackendRemote},
		map[string]Builder{BackendRemote: builderFor(remote, nil, nil)},
		zap.NewNop(),
	)

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !svc.IsAvailable() {
		t.Error("IsAvailable() = false after successful initialize")
	}
	if svc.backend != remote {
		t.Errorf("loaded %s, want remote", svc.backend.Name())
	}
}

func TestInitialize_FallsBackToPortable(t *testing.T) {
	remote := &fakeBackend{name: BackendRemote, probeErr: errors.New("api unreachable")}
	svc := NewService(
		Config{Model: "m", Preferred: BackendRemote, Dimensions: 8},
		map[string]Builder{BackendRemote: builderFor(remote, nil, nil)},
		zap.NewNop(),
	)

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !remote.closed {
		t.Error("failed preferred backend was not released")
	}
	if svc.backend.Name() != BackendPortable {
		t.Errorf("loaded %s, want portable fallback", svc.backend.Name())
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	calls := 0
	remote := &fakeBackend{name: BackendRemote, embedVec: []float32{1}}
	svc := NewService(
		Config{Model: "m", Preferred: BackendRemote},
		map[string]Builder{BackendRemote: builderFor(remote, nil, &calls)},
		zap.NewNop(),
	)

	ctx := context.Background()
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if calls != 1 {
		t.Errorf("builder called %d times, want 1", calls)
	}
}

func TestInitialize_AllBackendsFail(t *testing.T) {
	svc := NewService(
		Config{Model: "m", Preferred: BackendRemote},
		map[string]Builder{
			BackendRemote:   builderFor(nil, errors.New("no api key"), nil),
			BackendPortable: builderFor(nil, errors.New("broken"), nil),
		},
		zap.NewNop(),
	)

	err := svc.Initialize(context.Background())
	if !errors.Is(err, domain.ErrInitialization) {
		t.Fatalf("got %v, want ErrInitialization", err)
	}
	if svc.IsAvailable() {
		t.Error("IsAvailable() = true after failed initialize")
	}
}

func TestReconfigure_ReleasesOldBackend(t *testing.T) {
	old := &fakeBackend{name: BackendRemote, embedVec: []float32{1}}
	replacement := &fakeBackend{name: BackendRemote, embedVec: []float32{1, 2}}
	loaded := old
	svc := NewService(
		Config{Model: "m1", Preferred: BackendRemote},
		map[string]Builder{BackendRemote: func(_ string, _ int) (Backend, error) {
			b := loaded
			loaded = replacement
			return b, nil
		}},
		zap.NewNop(),
	)

	ctx := context.Background()
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := svc.Reconfigure(ctx, Config{Model: "m2", Preferred: BackendRemote}); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if !old.closed {
		t.Error("previous backend handle was not closed before reload")
	}
	if svc.backend != replacement {
		t.Error("new backend not loaded after reconfigure")
	}
}

func TestReconfigure_SameConfigNoop(t *testing.T) {
	b := &fakeBackend{name: BackendRemote, embedVec: []float32{1}}
	cfg := Config{Model: "m", Preferred: BackendRemote}
	svc := NewService(cfg, map[string]Builder{BackendRemote: builderFor(b, nil, nil)}, zap.NewNop())

	ctx := context.Background()
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := svc.Reconfigure(ctx, cfg); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if b.closed {
		t.Error("same-config reconfigure reloaded the backend")
	}
}

func TestGenerateEmbedding_LazyInitAndUnitLength(t *testing.T) {
	svc := NewService(Config{Model: "m", Dimensions: 32}, nil, zap.NewNop())

	vec, err := svc.GenerateEmbedding(context.Background(), "loamy soil with high organic matter")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !svc.IsAvailable() {
		t.Error("lazy initialization did not happen")
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-6 {
		t.Errorf("squared norm = %v, want 1.0", norm)
	}
}

func TestGenerateEmbedding_EmptyOutput(t *testing.T) {
	b := &fakeBackend{name: BackendRemote, embedVec: nil}
	svc := NewService(
		Config{Model: "m", Preferred: BackendRemote},
		map[string]Builder{BackendRemote: builderFor(b, nil, nil)},
		zap.NewNop(),
	)

	_, err := svc.GenerateEmbedding(context.Background(), "text")
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("got %v, want ErrEmbedding", err)
	}
}

func TestGenerateEmbedding_BackendError(t *testing.T) {
	b := &fakeBackend{name: BackendRemote, embedErr: errors.New("inference failed")}
	svc := NewService(
		Config{Model: "m", Preferred: BackendRemote},
		map[string]Builder{BackendRemote: builderFor(b, nil, nil)},
		zap.NewNop(),
	)

	_, err := svc.GenerateEmbedding(context.Background(), "text")
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("got %v, want ErrEmbedding", err)
	}
}

func TestGenerateEmbedding_DeterministicWithinSession(t *testing.T) {
	svc := NewService(Config{Model: "m", Dimensions: 64}, nil, zap.NewNop())
	ctx := context.Background()
	text := "nitrogen levels in the north field remain stable"

	a, err := svc.GenerateEmbedding(ctx, text)
	if err != nil {
		t.Fatalf("first embed: %v", err)
	}
	b, err := svc.GenerateEmbedding(ctx, text)
	if err != nil {
		t.Fatalf("second embed: %v", err)
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	// Both vectors are unit length, so the dot product is the cosine.
	if dot < 0.999 {
		t.Errorf("repeat embedding cosine = %v, want >= 0.999", dot)
	}
}

func TestBatchEmbed(t *testing.T) {
	svc := NewService(Config{Model: "m", Dimensions: 16}, nil, zap.NewNop())

	vectors, err := svc.BatchEmbed(context.Background(), []string{"clay subsoil", "sandy topsoil"})
	if err != nil {
		t.Fatalf("batch embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != 16 {
			t.Errorf("vector %d length = %d, want 16", i, len(vec))
		}
	}
}

func TestBatchEmbed_StopsOnError(t *testing.T) {
	b := &fakeBackend{name: BackendRemote, embedErr: errors.New("inference failed")}
	svc := NewService(
		Config{Model: "m", Preferred: BackendRemote},
		map[string]Builder{BackendRemote: builderFor(b, nil, nil)},
		zap.NewNop(),
	)

	_, err := svc.BatchEmbed(context.Background(), []string{"a", "b", "c"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("got %v, want ErrEmbedding", err)
	}
	if b.embCalls != 1 {
		t.Errorf("backend called %d times after failure, want 1", b.embCalls)
	}
}

func TestGenerateDocumentEmbedding(t *testing.T) {
	svc := NewService(Config{Model: "m", Dimensions: 16}, nil, zap.NewNop())
	ctx := context.Background()
	meta := domain.Metadata{Type: domain.TypeSoilAnalysis, OwnerID: "u1"}

	doc, err := svc.GenerateDocumentEmbedding(ctx, "d1", "  soil   sample\t#3  ", meta)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if doc.ID != "d1" {
		t.Errorf("ID = %q, want d1", doc.ID)
	}
	if doc.Text != "soil sample 3" {
		t.Errorf("Text = %q, want normalized text", doc.Text)
	}
	if doc.Metadata.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
	if len(doc.Embedding) != 16 {
		t.Errorf("embedding length = %d, want 16", len(doc.Embedding))
	}
}

func TestGenerateDocumentEmbedding_AssignsID(t *testing.T) {
	svc := NewService(Config{Model: "m", Dimensions: 16}, nil, zap.NewNop())

	doc, err := svc.GenerateDocumentEmbedding(context.Background(), "", "text", domain.Metadata{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if doc.ID == "" {
		t.Error("empty id was not assigned")
	}
}
