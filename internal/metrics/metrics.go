package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "insightflow", Name: "documents_processed_total", Help: "Documents that reached a terminal status, by outcome."},
		[]string{"outcome"},
	)
	ChunksCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "insightflow", Name: "chunks_created_total", Help: "Chunks persisted across all documents."},
	)
	QuestionsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "insightflow", Name: "questions_generated_total", Help: "Questions persisted across all chunks."},
	)
	GenerationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "insightflow", Name: "generation_failures_total", Help: "Chunk-level generation failures after the single retry."},
	)
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "insightflow", Name: "pipeline_duration_seconds", Help: "Wall time of one document processing run.", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12)},
	)
	RateLimitAllowed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "insightflow", Name: "rate_limit_allowed_total", Help: "Requests admitted by the rate limiter."},
	)
	RateLimitRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "insightflow", Name: "rate_limit_rejected_total", Help: "Requests rejected by the rate limiter."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(DocumentsProcessed)
	reg.MustRegister(ChunksCreated)
	reg.MustRegister(QuestionsGenerated)
	reg.MustRegister(GenerationFailures)
	reg.MustRegister(PipelineDuration)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
