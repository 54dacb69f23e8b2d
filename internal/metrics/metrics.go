// Package metrics holds the prometheus collectors and the tracer shared by
// the ingestion pipeline, the answerer and the HTTP transport.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics
var (
	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrag_documents_ingested_total",
			Help: "Documents seen by the ingestion pipeline by outcome (indexed, duplicate, failed)",
		},
		[]string{"outcome"},
	)
	ChunksStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docrag_chunks_stored_total",
			Help: "Chunks persisted to the vector store",
		},
	)
	Queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrag_queries_total",
			Help: "Answer requests by mode (batch, stream) and outcome (answered, no_context, failed, cancelled)",
		},
		[]string{"mode", "outcome"},
	)
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrag_query_duration_seconds",
			Help:    "Duration of answer requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"mode"},
	)
	ModelInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrag_model_invocations_total",
			Help: "Calls made to the generation model by model name and mode",
		},
		[]string{"model", "mode"},
	)
	EmbedderFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrag_embedder_fallbacks_total",
			Help: "Embeddings served by the local fallback after the primary provider failed",
		},
		[]string{"provider"},
	)
)

// Registry holds every docrag collector plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var tracer = otel.Tracer("docrag")

func init() {
	Registry.MustRegister(
		DocumentsIngested, ChunksStored, Queries, QueryDuration, ModelInvocations, EmbedderFallbacks,
		collectors.NewGoCollector(),
	)
}

// Handler exposes Registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// StartSpan starts a span named name with the given string attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
