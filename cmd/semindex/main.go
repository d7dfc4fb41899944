package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fieldsense/semindex"
	"github.com/fieldsense/semindex/internal/config"
	logpkg "github.com/fieldsense/semindex/internal/logger"
	"github.com/fieldsense/semindex/internal/metrics"
	chiTransport "github.com/fieldsense/semindex/internal/transport/chi"
	"github.com/fieldsense/semindex/internal/version"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting semindex daemon",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("store_path", cfg.Store.Path),
		zap.String("embedding_backend", cfg.Embedding.Backend),
		zap.String("embedding_model", cfg.Embedding.Model),
	)

	metrics.Register()

	opts := []semindex.Option{
		semindex.WithStorePath(cfg.Store.Path),
		semindex.WithModel(cfg.Embedding.Model, cfg.Embedding.Dimensions),
		semindex.WithLogger(logger),
	}
	if cfg.Embedding.Backend == "remote" {
		opts = append(opts, semindex.WithRemoteBackend(semindex.RemoteBackendConfig{
			APIKey:  cfg.Embedding.APIKey,
			BaseURL: cfg.Embedding.BaseURL,
		}))
	}

	index, err := semindex.New(opts...)
	if err != nil {
		logger.Fatal("Failed to create index", zap.Error(err))
	}
	defer func() { _ = index.Close() }()

	count, err := index.Initialize(context.Background())
	if err != nil {
		logger.Fatal("Failed to initialize index", zap.Error(err))
	}
	logger.Info("Index ready", zap.Int("documents", count))

	server := chiTransport.NewServer(index, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      server.Router(cfg.Auth.APIKeys),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		errc <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errc:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
