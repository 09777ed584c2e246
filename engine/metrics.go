package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricJobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scriptgen",
		Subsystem: "engine",
		Name:      "jobs_enqueued_total",
		Help:      "Generation jobs accepted into the queue.",
	})

	metricJobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scriptgen",
		Subsystem: "engine",
		Name:      "jobs_completed_total",
		Help:      "Generation jobs reaching a terminal status.",
	}, []string{"status"})

	metricLLMRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scriptgen",
		Subsystem: "engine",
		Name:      "llm_retries_total",
		Help:      "Rate-limited LLM calls that were retried.",
	})

	metricAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scriptgen",
		Subsystem: "engine",
		Name:      "generation_attempts",
		Help:      "Attempts used per terminal generation job.",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})
)
