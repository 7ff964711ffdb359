// Package observability exposes prometheus metrics for the pipeline,
// gateway and retrieval engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors for one Thoth process. All components
// share a single instance wired through the composition root.
type Metrics struct {
	registry *prometheus.Registry

	GatewayRequests *prometheus.CounterVec
	GatewayCacheHit *prometheus.CounterVec
	GatewayRetries  *prometheus.CounterVec

	PipelineSteps    *prometheus.HistogramVec
	PipelineOutcomes *prometheus.CounterVec

	RetrievalStages  *prometheus.CounterVec
	RetrievalLatency prometheus.Histogram

	FilterDecisions *prometheus.CounterVec
}

// New creates a Metrics instance backed by a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thoth_gateway_requests_total",
			Help: "Outbound gateway requests by service and outcome.",
		}, []string{"service", "outcome"}),

		GatewayCacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thoth_gateway_cache_hits_total",
			Help: "Gateway cache hits by service.",
		}, []string{"service"}),

		GatewayRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thoth_gateway_retries_total",
			Help: "Gateway retry attempts by service.",
		}, []string{"service"}),

		PipelineSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "thoth_pipeline_step_seconds",
			Help:    "Ingestion pipeline step durations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"step"}),

		PipelineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thoth_pipeline_outcomes_total",
			Help: "Pipeline runs by outcome (processed, skipped, failed).",
		}, []string{"outcome"}),

		RetrievalStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thoth_retrieval_stage_total",
			Help: "Retrieval pipeline stage executions by stage and result.",
		}, []string{"stage", "result"}),

		RetrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "thoth_retrieval_seconds",
			Help:    "End-to-end retrieval latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		FilterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thoth_filter_decisions_total",
			Help: "Article filter decisions.",
		}, []string{"decision"}),
	}

	registry.MustRegister(
		m.GatewayRequests,
		m.GatewayCacheHit,
		m.GatewayRetries,
		m.PipelineSteps,
		m.PipelineOutcomes,
		m.RetrievalStages,
		m.RetrievalLatency,
		m.FilterDecisions,
	)

	return m
}

// Registry returns the prometheus registry for HTTP exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The helpers below are nil-safe so components can run without metrics in
// tests.

// ObserveStep records a pipeline step duration.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineSteps.WithLabelValues(step).Observe(d.Seconds())
}

// GatewayRequest counts one outbound request.
func (m *Metrics) GatewayRequest(service, outcome string) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(service, outcome).Inc()
}

// CacheHit counts one gateway cache hit.
func (m *Metrics) CacheHit(service string) {
	if m == nil {
		return
	}
	m.GatewayCacheHit.WithLabelValues(service).Inc()
}

// Retry counts one gateway retry attempt.
func (m *Metrics) Retry(service string) {
	if m == nil {
		return
	}
	m.GatewayRetries.WithLabelValues(service).Inc()
}

// PipelineOutcome counts one pipeline run outcome.
func (m *Metrics) PipelineOutcome(outcome string) {
	if m == nil {
		return
	}
	m.PipelineOutcomes.WithLabelValues(outcome).Inc()
}

// RetrievalStage counts one retrieval stage execution.
func (m *Metrics) RetrievalStage(stage, result string) {
	if m == nil {
		return
	}
	m.RetrievalStages.WithLabelValues(stage, result).Inc()
}

// FilterDecision counts one filter decision.
func (m *Metrics) FilterDecision(decision string) {
	if m == nil {
		return
	}
	m.FilterDecisions.WithLabelValues(decision).Inc()
}
