package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_turns_started_total",
			Help: "Total number of conversation turns started",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_turns_completed_total",
			Help: "Total number of conversation turns completed by outcome",
		},
		[]string{"outcome"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_turn_duration_seconds",
			Help:    "Turn execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	// Stage metrics
	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	RoutesSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_routes_selected_total",
			Help: "Routes chosen by the router stage",
		},
		[]string{"route", "source"},
	)

	// Slot metrics
	SlotExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_slot_extractions_total",
			Help: "Slot extraction attempts by status",
		},
		[]string{"status"},
	)

	FollowupQuestions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_followup_questions_total",
			Help: "Clarifying questions asked per field and source",
		},
		[]string{"field", "source"},
	)

	// Retrieval metrics
	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_retrieval_total",
			Help: "Total number of graph and vector retrieval calls",
		},
		[]string{"store", "status"},
	)

	RetrievalLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_retrieval_latency_seconds",
			Help:    "Retrieval latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store"},
	)

	EvidenceSelected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triage_evidence_selected_items",
			Help:    "Evidence items admitted into an assembled context",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)

	EvidenceTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triage_evidence_consumed_tokens",
			Help:    "Approximate tokens consumed by an assembled context",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3200},
		},
	)

	// Vector DB metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Text generation metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_llm_requests_total",
			Help: "Total number of text generation calls",
		},
		[]string{"provider", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_llm_latency_seconds",
			Help:    "Text generation latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// Compliance metrics
	ComplianceDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_compliance_decisions_total",
			Help: "Compliance gate decisions",
		},
		[]string{"status"},
	)

	ComplianceIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_compliance_issues_total",
			Help: "Compliance issues by category",
		},
		[]string{"category"},
	)

	EscalationSinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_escalation_sink_errors_total",
			Help: "Escalation log write failures",
		},
		[]string{"sink"},
	)

	// Facts store metrics
	FactsStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_facts_store_operations_total",
			Help: "Facts store operations",
		},
		[]string{"backend", "op", "status"},
	)

	FactsCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_facts_cache_hits_total",
			Help: "Total number of facts cache hits",
		},
	)

	FactsCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_facts_cache_misses_total",
			Help: "Total number of facts cache misses",
		},
	)

	FactsCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_facts_cache_size",
			Help: "Current number of threads in the local facts cache",
		},
	)

	FactsCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_facts_cache_evictions_total",
			Help: "Total number of threads evicted from the facts cache",
		},
	)
)

// RecordTurnMetrics records a finished turn
func RecordTurnMetrics(outcome string, durationSeconds float64) {
	TurnsCompleted.WithLabelValues(outcome).Inc()
	TurnDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordStageMetrics records a single stage execution
func RecordStageMetrics(stage, status string, durationSeconds float64) {
	StageExecutions.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordRetrievalMetrics records a graph or vector lookup
func RecordRetrievalMetrics(store, status string, durationSeconds float64) {
	RetrievalRequests.WithLabelValues(store, status).Inc()
	if durationSeconds > 0 {
		RetrievalLatency.WithLabelValues(store).Observe(durationSeconds)
	}
}

// RecordEvidenceMetrics records the size of an assembled context
func RecordEvidenceMetrics(items, tokens int) {
	EvidenceSelected.Observe(float64(items))
	EvidenceTokens.Observe(float64(tokens))
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordLLMMetrics records a text generation call
func RecordLLMMetrics(provider, status string, durationSeconds float64) {
	LLMRequests.WithLabelValues(provider, status).Inc()
	if durationSeconds > 0 {
		LLMLatency.WithLabelValues(provider).Observe(durationSeconds)
	}
}

// RecordComplianceDecision records the gate outcome and each issue category
func RecordComplianceDecision(status string, categories []string) {
	ComplianceDecisions.WithLabelValues(status).Inc()
	for _, c := range categories {
		ComplianceIssues.WithLabelValues(c).Inc()
	}
}

// RecordFactsStoreOp records a facts store operation
func RecordFactsStoreOp(backend, op, status string) {
	FactsStoreOps.WithLabelValues(backend, op, status).Inc()
}
