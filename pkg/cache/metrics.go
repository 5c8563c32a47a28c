package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHitsTotal tracks cache hits.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_cache_hits_total",
		Help: "Total number of cache hits",
	})

	// CacheMissesTotal tracks cache misses.
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_cache_misses_total",
		Help: "Total number of cache misses",
	})

	// CacheSetsTotal tracks successful cache writes.
	CacheSetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_cache_sets_total",
		Help: "Total number of cache sets",
	})
)
