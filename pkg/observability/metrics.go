// Package observability exposes Prometheus metrics and health endpoints
// for the pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	modelCalls       *prometheus.CounterVec
	modelCallTime    *prometheus.HistogramVec
	tokens           *prometheus.CounterVec
	costUSD          prometheus.Counter
	toolCalls        *prometheus.CounterVec
	contextTokens    prometheus.Histogram
	cacheHitRatio    prometheus.Histogram
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxforge_pipeline_runs_total",
			Help: "Pipeline runs by terminal state.",
		}, []string{"state"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ctxforge_pipeline_duration_seconds",
			Help:    "End to end pipeline run duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"state"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxforge_model_calls_total",
			Help: "Model calls by provider, model and outcome.",
		}, []string{"provider", "model", "outcome"}),
		modelCallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ctxforge_model_call_duration_seconds",
			Help:    "Model call latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxforge_tokens_total",
			Help: "Tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
		costUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctxforge_cost_usd_total",
			Help: "Accumulated model spend in US dollars.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxforge_tool_calls_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		contextTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ctxforge_context_tokens",
			Help:    "Token size of assembled contexts.",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10),
		}),
		cacheHitRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ctxforge_context_cache_hit_fraction",
			Help:    "Estimated cacheable share of assembled contexts.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
	reg.MustRegister(
		m.pipelineRuns, m.pipelineDuration,
		m.modelCalls, m.modelCallTime,
		m.tokens, m.costUSD, m.toolCalls,
		m.contextTokens, m.cacheHitRatio,
	)
	return m
}

// Registry exposes the registry for the metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObservePipelineRun records one finished pipeline run.
func (m *Metrics) ObservePipelineRun(state string, d time.Duration) {
	m.pipelineRuns.WithLabelValues(state).Inc()
	m.pipelineDuration.WithLabelValues(state).Observe(d.Seconds())
}

// ObserveModelCall records one chat completion.
func (m *Metrics) ObserveModelCall(providerName, model string, inputTokens, outputTokens, cachedTokens int, d time.Duration, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.modelCalls.WithLabelValues(providerName, model, outcome).Inc()
	m.modelCallTime.WithLabelValues(providerName, model).Observe(d.Seconds())
	m.tokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.tokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	m.tokens.WithLabelValues(model, "cached").Add(float64(cachedTokens))
}

// ObserveCost adds dollars to the spend counter.
func (m *Metrics) ObserveCost(usd float64) {
	if usd > 0 {
		m.costUSD.Add(usd)
	}
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveContext records the size and cacheable fraction of one built
// context.
func (m *Metrics) ObserveContext(totalTokens int, cacheHitFraction float64) {
	m.contextTokens.Observe(float64(totalTokens))
	m.cacheHitRatio.Observe(cacheHitFraction)
}
