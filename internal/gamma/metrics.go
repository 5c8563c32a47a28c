package gamma

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MarketsFetchedTotal tracks markets returned by batch sync pages.
	MarketsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_gamma_markets_fetched_total",
		Help: "Total number of markets fetched from the Gamma API",
	})

	// TokenLookupsTotal tracks outbound discovery lookups by token id.
	TokenLookupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_gamma_token_lookups_total",
		Help: "Total number of token discovery lookups against the Gamma API",
	})

	// FetchRetriesTotal tracks retried requests.
	FetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_gamma_fetch_retries_total",
		Help: "Total number of retried Gamma API requests",
	})

	// FetchErrorsTotal tracks requests that failed after all retries.
	FetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_gamma_fetch_errors_total",
		Help: "Total number of Gamma API requests that exhausted retries",
	})
)
