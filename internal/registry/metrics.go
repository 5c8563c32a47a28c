package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIndexed tracks the current size of the token index.
	TokensIndexed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polymarket_ledger_registry_tokens_indexed",
		Help: "Number of token ids currently indexed by the registry",
	})

	// TokensParked tracks tokens awaiting a discovery retry.
	TokensParked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polymarket_ledger_registry_tokens_parked",
		Help: "Number of token ids parked for discovery retry",
	})

	// ConflictsTotal tracks rejected conflicting market updates.
	ConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_registry_conflicts_total",
		Help: "Total number of market updates rejected for token conflicts",
	})

	// DiscoveryCallsTotal tracks outbound discovery lookups.
	DiscoveryCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_registry_discovery_calls_total",
		Help: "Total number of outbound discovery calls",
	})

	// DiscoveryMissesTotal tracks definitive discovery misses.
	DiscoveryMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_registry_discovery_misses_total",
		Help: "Total number of discovery lookups that found no market",
	})

	// DiscoveryFailuresTotal tracks discovery calls that failed.
	DiscoveryFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_registry_discovery_failures_total",
		Help: "Total number of failed discovery calls",
	})

	// NegativeCacheHitsTotal tracks lookups short-circuited by the negative cache.
	NegativeCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_registry_negative_cache_hits_total",
		Help: "Total number of discovery lookups answered by the negative cache",
	})

	// BreakerOpensTotal tracks discovery breaker openings.
	BreakerOpensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_registry_breaker_opens_total",
		Help: "Total number of times the discovery breaker opened",
	})
)
