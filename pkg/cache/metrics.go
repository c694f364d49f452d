package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	b24CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_cache_hits_total",
		Help: "Total number of response cache hits by method",
	}, []string{"method"})

	b24CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_cache_misses_total",
		Help: "Total number of response cache misses by method",
	}, []string{"method"})

	b24CacheEntryBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "b24_cache_entry_bytes",
		Help:    "Size of stored response cache entries",
		Buckets: prometheus.ExponentialBuckets(256, 4, 7),
	})

	b24CacheInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_cache_invalidations_total",
		Help: "Total number of cache entries removed by invalidation by method",
	}, []string{"method"})

	// operation is get, set, delete or invalidate
	b24CacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_cache_errors_total",
		Help: "Total number of cache operation errors",
	}, []string{"operation"})
)
