package transform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmittedTotal tracks canonical trades emitted.
	EmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_transform_emitted_total",
		Help: "Total number of canonical trades emitted",
	})

	// DuplicatesTotal tracks replayed events deduplicated by uniqueness key.
	DuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_transform_duplicates_total",
		Help: "Total number of duplicate fill events skipped",
	})

	// MalformedTotal tracks events failing structural validation.
	MalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_transform_malformed_total",
		Help: "Total number of malformed fill events rejected",
	})

	// OutOfModelTotal tracks token-for-token swaps outside the price model.
	OutOfModelTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_transform_out_of_model_total",
		Help: "Total number of token-for-token fills rejected as out of model",
	})

	// ZeroAmountTotal tracks fills skipped for carrying no token quantity.
	ZeroAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_transform_zero_amount_total",
		Help: "Total number of zero-amount fills skipped",
	})

	// ParkedTotal tracks events parked behind unresolved markets.
	ParkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_transform_parked_total",
		Help: "Total number of fill events parked for a later pass",
	})

	// RejectedTotal tracks events rejected for unresolvable markets.
	RejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_transform_rejected_total",
		Help: "Total number of fill events rejected for unresolvable markets",
	})

	// PriceFlagsTotal tracks derived prices outside the unit interval.
	PriceFlagsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polymarket_ledger_transform_price_flags_total",
		Help: "Total number of trades flagged for a price outside [0, 1]",
	})
)
