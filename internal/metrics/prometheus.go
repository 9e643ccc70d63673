package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledge_assistant_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"outcome"},
	)

	ComplexityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "knowledge_assistant_complexity_score",
			Help:    "Query complexity scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	TierSelected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_tier_selected_total",
			Help: "Tiers selected by complexity",
		},
		[]string{"tier"},
	)

	ModelInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_model_invocations_total",
			Help: "Model invocations by tier and status",
		},
		[]string{"tier", "status"},
	)

	FallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_fallback_total",
			Help: "Responses served by a tier other than the one selected",
		},
		[]string{"selected", "used"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_llm_cost_usd",
			Help: "Estimated LLM API cost in USD",
		},
		[]string{"model"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "knowledge_assistant_retrieved_chunks",
			Help:    "Number of context chunks used per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	PromptTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "knowledge_assistant_prompt_tokens",
			Help:    "Assembled prompt size in tokens",
			Buckets: prometheus.ExponentialBuckets(128, 2, 8),
		},
	)

	GuardrailInterventions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_guardrail_interventions_total",
			Help: "Guardrail interventions by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	AnalyticsFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_analytics_failures_total",
			Help: "Text analytics failures resolved by the guardrail policy",
		},
		[]string{"call", "policy"},
	)

	QualityScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledge_assistant_quality_score",
			Help:    "Response quality scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"dimension"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	AuditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_audit_events_total",
			Help: "Audit events by type and severity",
		},
		[]string{"event_type", "severity"},
	)

	AuditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_audit_sink_failures_total",
			Help: "Audit sink write failures",
		},
		[]string{"sink"},
	)

	UserFeedback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_assistant_feedback_total",
			Help: "User feedback by type",
		},
		[]string{"type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "knowledge_assistant_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(
		QueryDuration,
		QueryTotal,
		ComplexityScore,
		TierSelected,
		ModelInvocations,
		FallbackTotal,
		LLMTokensUsed,
		LLMCost,
		RetrievedChunks,
		PromptTokens,
		GuardrailInterventions,
		AnalyticsFailures,
		QualityScore,
		CacheHits,
		CacheMisses,
		AuditEvents,
		AuditFailures,
		UserFeedback,
		BreakerState,
	)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
