package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datachat",
		Name:      "turns_total",
		Help:      "Completed turns by terminal outcome.",
	}, []string{"outcome"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "datachat",
		Name:      "turn_duration_seconds",
		Help:      "Wall time of a full turn.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
	})

	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datachat",
		Name:      "llm_requests_total",
		Help:      "Provider attempts by outcome.",
	}, []string{"provider", "outcome"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datachat",
		Name:      "llm_tokens_total",
		Help:      "Tokens billed per provider.",
	}, []string{"provider"})

	sqlDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "datachat",
		Name:      "sql_duration_seconds",
		Help:      "Query execution time per dialect.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"dialect"})

	sqlRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "datachat",
		Name:      "sql_result_rows",
		Help:      "Result preview sizes.",
		Buckets:   []float64{1, 10, 50, 100, 500, 1000},
	})
)
