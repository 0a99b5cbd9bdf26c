package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResearchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_runs_total",
		Help: "The total number of research runs by outcome",
	}, []string{"status"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "research_run_duration_seconds",
		Help:    "End-to-end duration of research runs",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	})

	SourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_source_requests_total",
		Help: "Total number of source API requests",
	}, []string{"endpoint", "status"})

	SourceRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "research_source_request_duration_seconds",
		Help:    "Duration of source API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	ItemsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_items_fetched_total",
		Help: "Total number of items returned by the bulk fetcher",
	})

	ItemsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_items_dropped_total",
		Help: "Total number of items dropped by stage and reason",
	}, []string{"stage", "reason"})

	PruneFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_prune_fallbacks_total",
		Help: "Total number of runs where pruning fell back to random sampling",
	})

	Hydrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_hydrations_total",
		Help: "Total number of item hydrations by outcome",
	}, []string{"status"})

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_classifications_total",
		Help: "Total number of gate classifications by tier",
	}, []string{"tier"})

	SchedulerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "research_scheduler_queue_depth",
		Help: "Current number of pending tasks in the scheduler",
	})

	SchedulerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_scheduler_retries_total",
		Help: "Total number of task retries by failure kind",
	}, []string{"kind"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "research_llm_request_duration_seconds",
		Help:    "Duration of LLM requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_llm_tokens_total",
		Help: "Total number of LLM tokens used",
	}, []string{"model", "type"})

	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_embedding_requests_total",
		Help: "Total number of embedding batch requests",
	}, []string{"provider", "status"})

	EmbeddingTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_embedding_tokens_total",
		Help: "Total number of tokens processed for embeddings",
	}, []string{"provider"})

	RunCostUSD = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "research_run_cost_usd",
		Help:    "Distribution of per-run metered cost in USD",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)
