package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PutsTotal tracks durable checkpoint writes.
var PutsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "polymarket_ledger_checkpoint_puts_total",
	Help: "Total number of checkpoint records written",
})
