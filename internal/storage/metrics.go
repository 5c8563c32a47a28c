package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesAppendedTotal counts trades durably appended to the ledger.
	TradesAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storage_trades_appended_total",
		Help: "Total number of canonical trades appended to the ledger",
	})

	// EventsAppendedTotal counts raw fill events appended to the event log.
	EventsAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storage_events_appended_total",
		Help: "Total number of raw fill events appended to the event log",
	})
)
