package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mit_cache_hits_total",
			Help: "Total number of registry cache hits",
		},
		[]string{"layer"}, // "memory", "redis"
	)

	// CacheMisses tracks lookups that missed every layer
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mit_cache_misses_total",
			Help: "Total number of registry cache misses",
		},
	)

	// CacheEntries tracks the number of entries held per layer
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mit_cache_entries",
			Help: "Current number of entries in the registry cache",
		},
		[]string{"layer"}, // "memory"
	)

	// CacheErrors tracks failed cache operations
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mit_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
