package embedding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_agent_embedding_requests_total",
		Help: "Embedding API batch requests by outcome.",
	}, []string{"status"})

	requestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowledge_agent_embedding_latency_seconds",
		Help:    "End-to-end latency of EmbedTexts calls.",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "knowledge_agent_embedding_cache_hits_total",
		Help: "Embedding cache hits.",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "knowledge_agent_embedding_cache_misses_total",
		Help: "Embedding cache misses.",
	})
)
