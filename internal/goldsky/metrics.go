package goldsky

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FillsFetchedTotal tracks fill events returned by the subgraph.
	FillsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_goldsky_fills_fetched_total",
		Help: "Total number of order fill events fetched from Goldsky",
	})

	// FillsDroppedTotal tracks fill events dropped for unparseable fields.
	FillsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_goldsky_fills_dropped_total",
		Help: "Total number of fill events dropped due to unparseable fields",
	})

	// QueryRetriesTotal tracks retried GraphQL queries.
	QueryRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_goldsky_query_retries_total",
		Help: "Total number of retried Goldsky queries",
	})

	// QueryErrorsTotal tracks queries that failed after all retries.
	QueryErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_goldsky_query_errors_total",
		Help: "Total number of Goldsky queries that exhausted retries",
	})
)
