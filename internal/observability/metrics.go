package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuotaDecisions counts limiter outcomes (allowed, global_limit, ip_limit, store_error, released).
	QuotaDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "everyday_quota_decisions_total",
		Help: "Daily quota decisions by outcome",
	}, []string{"outcome"})

	// GenerationLatency records generator call latency by stage and outcome.
	GenerationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "everyday_generation_latency_seconds",
		Help:    "Latency of text and image generation calls",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"stage", "outcome"})

	// ExpandFallbacks counts expansions answered by the canned pair or the default caption.
	ExpandFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "everyday_expand_fallbacks_total",
		Help: "Prompt expansions that fell back, by tier",
	}, []string{"tier"})

	// StoreCommits counts post commits by collection and result.
	StoreCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "everyday_store_commits_total",
		Help: "Post commits by collection and result",
	}, []string{"collection", "result"})

	// StoreLatency records artifact store call latency by backend and operation.
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "everyday_store_latency_seconds",
		Help:    "Artifact store call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})

	// PostsCreated counts posts that became visible, by collection.
	PostsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "everyday_posts_created_total",
		Help: "Posts created by collection",
	}, []string{"collection"})
)

// TrackGeneration returns a func that records the stage latency when called
// with the outcome, e.g. defer-style after the call returns.
func TrackGeneration(stage string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		GenerationLatency.WithLabelValues(stage, outcome).Observe(time.Since(start).Seconds())
	}
}

// TrackStore returns a function that records store latency when called (e.g. defer).
func TrackStore(backend, operation string) func() {
	start := time.Now()
	return func() {
		StoreLatency.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	}
}
