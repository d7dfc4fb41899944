// Package metrics defines the Prometheus instrumentation for the index.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semindex",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"backend", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "semindex",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "model"},
	)

	EmbeddingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semindex",
			Name:      "embedding_errors_total",
			Help:      "Total embedding errors",
		},
		[]string{"backend", "model", "error_type"},
	)

	DocumentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semindex",
			Name:      "documents_indexed_total",
			Help:      "Total documents written to the vector store",
		},
		[]string{"status"},
	)

	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semindex",
			Name:      "searches_total",
			Help:      "Total similarity searches",
		},
		[]string{"status"},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "semindex",
			Name:      "search_duration_seconds",
			Help:      "End-to-end similarity search duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	StoredDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "semindex",
			Name:      "stored_documents",
			Help:      "Documents currently persisted in the vector store",
		},
	)
)

var registered bool

// Register registers all metrics. Must be called once from main; no init().
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingErrorsTotal)
	prometheus.MustRegister(DocumentsIndexedTotal)
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(StoredDocuments)
	registered = true
}
