package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 检索链路的Prometheus指标
var (
	searchRequestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_search_requests_total",
			Help: "Total number of search requests",
		},
		[]string{"status"}, // ok / invalid / error
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_search_duration_seconds",
			Help:    "Duration of search requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cache"}, // exact / semantic / miss
	)

	cacheHitsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_cache_lookups_total",
			Help: "Semantic cache lookups by hit kind",
		},
		[]string{"kind"}, // exact / semantic / miss
	)

	cacheFailuresCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retrieval_cache_failures_total",
			Help: "Cache operations that failed and were swallowed",
		},
	)

	evaluationRunsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_evaluation_runs_total",
			Help: "Offline evaluation runs",
		},
		[]string{"status"},
	)
)
