// Package metrics provides Prometheus metrics for the RAG pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Answer outcomes.
const (
	OutcomeGrounded = "grounded"
	OutcomeNoMatch  = "no_match"
	OutcomeFailed   = "failed"
)

// Metrics holds all Prometheus metrics, registered on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	DocumentsIngestedTotal prometheus.Counter
	ChunksIngestedTotal    prometheus.Counter
	IngestErrorsTotal      *prometheus.CounterVec

	RetrievalResults  prometheus.Histogram
	RetrievalDuration prometheus.Histogram

	AnswersTotal      *prometheus.CounterVec
	SynthesisDuration prometheus.Histogram
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragqa_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ragqa_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "ragqa_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),
		DocumentsIngestedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ragqa_documents_ingested_total",
			Help: "Total number of documents ingested",
		}),
		ChunksIngestedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ragqa_chunks_ingested_total",
			Help: "Total number of chunks written to the vector store",
		}),
		IngestErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragqa_ingest_errors_total",
			Help: "Total number of failed ingestions by error kind",
		}, []string{"kind"}),
		RetrievalResults: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragqa_retrieval_results",
			Help:    "Number of units returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		RetrievalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragqa_retrieval_duration_seconds",
			Help:    "Duration of vector store queries in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		AnswersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragqa_answers_total",
			Help: "Total number of answers by outcome",
		}, []string{"outcome"}),
		SynthesisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragqa_synthesis_duration_seconds",
			Help:    "Duration of language model calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordIngest records a successful ingestion.
func (m *Metrics) RecordIngest(chunks int) {
	m.DocumentsIngestedTotal.Inc()
	m.ChunksIngestedTotal.Add(float64(chunks))
}

// RecordAnswer records an answer outcome.
func (m *Metrics) RecordAnswer(outcome string) {
	m.AnswersTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
