package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/pkg/types"
)

// ConsoleSink implements TradeSink by printing each trade to stdout. Meant
// for spot-checking the transform output during development.
type ConsoleSink struct {
	logger *zap.Logger
}

// NewConsoleSink creates a new console sink.
func NewConsoleSink(logger *zap.Logger) *ConsoleSink {
	logger.Info("console-sink-initialized")
	return &ConsoleSink{
		logger: logger,
	}
}

// StoreTrades prints each trade as a single line.
func (c *ConsoleSink) StoreTrades(ctx context.Context, trades []types.CanonicalTrade) error {
	for _, t := range trades {
		fmt.Printf("%s  market=%s  taker=%s %s %.6f @ %.4f  tx=%s\n",
			t.Timestamp.Format("2006-01-02 15:04:05"),
			t.MarketID,
			t.Taker,
			t.TakerDirection,
			t.TokenAmount,
			t.Price,
			t.TxHash,
		)
	}

	return nil
}

// Close is a no-op for the console sink.
func (c *ConsoleSink) Close() error {
	c.logger.Info("closing-console-sink")
	return nil
}
