// Package chi exposes the index over HTTP for hosts that run semindex
// as a sidecar instead of embedding it.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fieldsense/semindex"
	"github.com/fieldsense/semindex/internal/domain"
	logpkg "github.com/fieldsense/semindex/internal/logger"
)

// ownerHeader carries the host-authenticated principal. The host gates
// access; the daemon only requires the header to be present.
const ownerHeader = "X-Owner-ID"

// Server adapts one Index to HTTP. The index binds owner identity to
// the instance, so owner-scoped calls are serialized under mu.
type Server struct {
	index  *semindex.Index
	logger *zap.Logger
	mu     sync.Mutex
}

// NewServer creates the HTTP facade over an index.
func NewServer(index *semindex.Index, logger *zap.Logger) *Server {
	return &Server{index: index, logger: logger}
}

// Router builds the chi router with logging, recovery, and bearer auth.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/index", s.withOwner(s.handleIndex))
	r.Post("/search", s.withOwner(s.handleSearch))
	r.Delete("/documents", s.withOwner(s.handleClear))
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/export", s.handleExport)
	r.Post("/import", s.handleImport)

	return r
}

// withOwner binds the request's owner identity to the index for the
// duration of one owner-scoped operation.
func (s *Server) withOwner(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(ownerHeader)
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.index.SetOwner(r.Context(), owner)
		h(w, r)
	}
}

type indexRequest struct {
	Documents []documentPayload `json:"documents"`
}

type documentPayload struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Metadata domain.Metadata `json:"metadata"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents is required")
		return
	}

	docs := make([]domain.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = domain.Document{ID: d.ID, Text: d.Text, Meta: d.Metadata}
	}

	count, err := s.index.IndexDocuments(r.Context(), docs)
	if err != nil {
		s.writeDomainError(r.Context(), w, err, "index documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"indexed": count})
}

type searchRequest struct {
	Query         string   `json:"query"`
	DocumentTypes []string `json:"documentTypes,omitempty"`
	RegionCode    string   `json:"regionCode,omitempty"`
	CategoryTag   string   `json:"categoryTag,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	Threshold     float64  `json:"threshold,omitempty"`
}

type searchResponse struct {
	Results  []searchHit `json:"results"`
	Degraded bool        `json:"degraded,omitempty"`
}

type searchHit struct {
	Document   domain.DocumentEmbedding `json:"document"`
	Similarity float64                  `json:"similarity"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := s.index.SearchSimilar(r.Context(), req.Query, domain.SearchOptions{
		DocumentTypes: req.DocumentTypes,
		RegionCode:    req.RegionCode,
		CategoryTag:   req.CategoryTag,
		Limit:         req.Limit,
		Threshold:     req.Threshold,
	})
	if err != nil && !errors.Is(err, domain.ErrSearchFailed) {
		s.writeDomainError(r.Context(), w, err, "search")
		return
	}

	resp := searchResponse{Results: make([]searchHit, 0, len(results))}
	// A degraded search stays a 200 with empty results; the flag lets
	// the host distinguish it from a genuine empty match set.
	resp.Degraded = errors.Is(err, domain.ErrSearchFailed)
	for _, res := range results {
		resp.Results = append(resp.Results, searchHit{Document: res.Document, Similarity: res.Similarity})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.index.ClearOwnerIndex(r.Context())
	if err != nil {
		s.writeDomainError(r.Context(), w, err, "clear owner index")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.index.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized":      st.Initialized,
		"indexing":         st.Indexing,
		"searching":        st.Searching,
		"indexingProgress": st.IndexingProgress,
		"documentCount":    st.DocumentCount,
		"lastError":        st.LastError,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Stats(r.Context())
	if err != nil {
		s.writeDomainError(r.Context(), w, err, "stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	blob, err := s.index.Export(r.Context())
	if err != nil {
		s.writeDomainError(r.Context(), w, err, "export")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	count, err := s.index.Import(r.Context(), blob)
	if err != nil {
		s.writeDomainError(r.Context(), w, err, "import")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": count})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sentinelStatus maps domain errors to HTTP statuses, most specific
// first.
var sentinelStatus = []struct {
	err    error
	status int
}{
	{domain.ErrUnauthenticated, http.StatusUnauthorized},
	{domain.ErrImportFormat, http.StatusBadRequest},
	{domain.ErrDimensionMismatch, http.StatusBadRequest},
	{domain.ErrEmbedding, http.StatusBadGateway},
	{domain.ErrInitialization, http.StatusServiceUnavailable},
	{domain.ErrStorageUnavailable, http.StatusServiceUnavailable},
	{domain.ErrIndexing, http.StatusInternalServerError},
}

func (s *Server) writeDomainError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	for _, m := range sentinelStatus {
		if errors.Is(err, m.err) {
			writeError(w, m.status, err.Error())
			return
		}
	}
	logpkg.FromContext(ctx).Error("Unhandled error", zap.String("op", msg), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// requestLogMiddleware emits one canonical log line per request and
// places a request-scoped logger in the context.
func requestLogMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chimw.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.WithContext(r.Context(), reqLogger)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
