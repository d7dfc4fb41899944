// Package openai provides the remote embedding backend over any
// OpenAI-compatible embeddings API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fieldsense/semindex/internal/domain"
	"github.com/fieldsense/semindex/internal/embed"
	"github.com/fieldsense/semindex/internal/metrics"
)

// Backend calls a remote OpenAI-compatible embeddings endpoint.
type Backend struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	logger     *zap.Logger
}

// Config holds the remote backend settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Logger     *zap.Logger
}

// New creates a remote embedding backend.
func New(cfg Config) *Backend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		logger:     logger,
	}
}

var _ embed.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return embed.BackendRemote }

// Probe verifies API availability via ListModels (free endpoint).
func (b *Backend) Probe(ctx context.Context) error {
	if _, err := b.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Embed requests one embedding vector with transport-level metrics.
func (b *Backend) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          b.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if b.dimensions > 0 {
		req.Dimensions = b.dimensions
	}

	start := time.Now()
	resp, err := b.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(b.Name(), string(b.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(b.Name(), string(b.model), "api_error").Inc()
		return nil, parseAPIError(err)
	}

	if len(resp.Data) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(b.Name(), string(b.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(b.Name(), string(b.model), "empty_response").Inc()
		return nil, fmt.Errorf("empty embedding response: %w", domain.ErrEmbedding)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(b.Name(), string(b.model), "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(b.Name(), string(b.model)).Observe(duration.Seconds())

	return resp.Data[0].Embedding, nil
}

// Dimensions returns the configured output vector length, 0 if the
// model default is used.
func (b *Backend) Dimensions() int { return b.dimensions }

// Close releases nothing; the HTTP client holds no persistent handle.
func (b *Backend) Close() error { return nil }

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrEmbedding.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbedding

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("embedding request failed: %w", wrap)
}

// extractDetail pulls the "detail" field from a JSON error body, the
// format several OpenAI-compatible providers use.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
