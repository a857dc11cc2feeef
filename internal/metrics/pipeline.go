package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline Prometheus metrics, registered explicitly from main (no init()).
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsrag",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding API requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "newsrag",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding API request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsrag",
			Name:      "embedding_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"model"},
	)

	EmbeddingRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsrag",
			Name:      "embedding_retries_total",
			Help:      "Total embedding request retries",
		},
		[]string{"model"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsrag",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache lookups by result",
		},
		[]string{"result"},
	)

	DocumentsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsrag",
			Name:      "documents_ingested_total",
			Help:      "Sync outcomes by status",
		},
		[]string{"status"},
	)

	ChunksStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "newsrag",
			Name:      "chunks_stored_total",
			Help:      "Total chunks written to the vector store",
		},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newsrag",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// RegisterPipelineMetrics registers the pipeline metrics with the default
// registry. Call once from main.
func RegisterPipelineMetrics() {
	prometheus.MustRegister(
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingTokensTotal,
		EmbeddingRetriesTotal,
		EmbeddingCacheTotal,
		DocumentsIngestedTotal,
		ChunksStoredTotal,
		QueryDuration,
	)
}
