package storage

import (
	"context"

	"github.com/mselser95/polymarket-ledger/pkg/types"
)

// TradeSink is the interface for persisting canonical trades.
type TradeSink interface {
	// StoreTrades persists a batch of canonical trades.
	StoreTrades(ctx context.Context, trades []types.CanonicalTrade) error

	// Close closes the sink.
	Close() error
}
