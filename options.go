package semindex

import (
	"errors"

	"go.uber.org/zap"

	"github.com/fieldsense/semindex/internal/embed"
	sqlitestore "github.com/fieldsense/semindex/internal/store/sqlite"
	openaibackend "github.com/fieldsense/semindex/internal/transport/openai"
)

// RemoteBackendConfig wires the OpenAI-compatible embedding backend.
type RemoteBackendConfig struct {
	APIKey  string
	BaseURL string
}

type options struct {
	storePath string
	store     vectorStore
	embedder  embedder
	embedCfg  embed.Config
	remote    *RemoteBackendConfig
	logger    *zap.Logger
}

// Option configures an Index.
type Option func(*options)

func defaultOptions() options {
	return options{
		embedCfg: embed.Config{
			Model:     "portable-hash-v1",
			Preferred: embed.BackendPortable,
		},
		logger: zap.NewNop(),
	}
}

// WithStorePath locates the SQLite database file, created on first use.
func WithStorePath(path string) Option {
	return func(o *options) { o.storePath = path }
}

// WithStore injects a pre-built vector store (tests, alternate engines).
func WithStore(s vectorStore) Option {
	return func(o *options) { o.store = s }
}

// WithEmbedder injects a pre-built embedding adapter.
func WithEmbedder(e embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithModel selects the embedding model and vector dimensionality.
// Documents embedded under different models must not share a store.
func WithModel(model string, dimensions int) Option {
	return func(o *options) {
		o.embedCfg.Model = model
		o.embedCfg.Dimensions = dimensions
	}
}

// WithRemoteBackend prefers the remote OpenAI-compatible backend; the
// portable backend remains the fallback when probing fails.
func WithRemoteBackend(cfg RemoteBackendConfig) Option {
	return func(o *options) {
		o.remote = &cfg
		o.embedCfg.Preferred = embed.BackendRemote
	}
}

// WithLogger sets the zap logger; defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func (o *options) buildStore() (vectorStore, error) {
	if o.store != nil {
		return o.store, nil
	}
	if o.storePath == "" {
		return nil, errors.New("semindex: store path required (use WithStorePath or WithStore)")
	}
	return sqlitestore.Open(o.storePath, o.logger)
}

func (o *options) buildEmbedder() embedder {
	if o.embedder != nil {
		return o.embedder
	}

	builders := map[string]embed.Builder{}
	if o.remote != nil {
		remote := *o.remote
		logger := o.logger
		builders[embed.BackendRemote] = func(model string, dims int) (embed.Backend, error) {
			return openaibackend.New(openaibackend.Config{
				APIKey:     remote.APIKey,
				BaseURL:    remote.BaseURL,
				Model:      model,
				Dimensions: dims,
				Logger:     logger,
			}), nil
		}
	}
	return embed.NewService(o.embedCfg, builders, o.logger)
}
