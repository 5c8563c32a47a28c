package storage

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/pkg/types"
)

var ledgerHeader = []string{
	"timestamp",
	"market_id",
	"maker",
	"taker",
	"nonquote_side",
	"maker_direction",
	"taker_direction",
	"price",
	"quote_amount",
	"token_amount",
	"maker_amount_raw",
	"taker_amount_raw",
	"tx_hash",
}

// Ledger is the append-only CSV file of canonical trades. It is the durable
// output of the pipeline: the trades-stage cursor is only advanced after a
// flush to the ledger has synced.
type Ledger struct {
	file   *appendFile
	logger *zap.Logger
}

// OpenLedger opens or creates the trade ledger, repairing a torn tail left
// by a crash mid-append.
func OpenLedger(path string, logger *zap.Logger) (*Ledger, error) {
	file, err := openAppendFile(path, ledgerHeader, logger)
	if err != nil {
		return nil, err
	}

	return &Ledger{file: file, logger: logger}, nil
}

// AppendTrades durably appends a batch of trades. The batch is synced to
// disk before returning.
func (l *Ledger) AppendTrades(trades []types.CanonicalTrade) error {
	if len(trades) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, []string{
			t.Timestamp.UTC().Format(time.RFC3339),
			t.MarketID,
			t.Maker,
			t.Taker,
			string(t.NonQuoteSide),
			string(t.MakerDirection),
			string(t.TakerDirection),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.QuoteAmount, 'f', -1, 64),
			strconv.FormatFloat(t.TokenAmount, 'f', -1, 64),
			strconv.FormatInt(t.MakerAmountRaw, 10),
			strconv.FormatInt(t.TakerAmountRaw, 10),
			t.TxHash,
		})
	}

	err := l.file.writeRows(rows)
	if err != nil {
		return err
	}

	TradesAppendedTotal.Add(float64(len(trades)))

	return nil
}

// LastTimestamp returns the timestamp of the final trade in the ledger,
// or false when the ledger is empty.
func (l *Ledger) LastTimestamp() (time.Time, bool, error) {
	record, ok, err := l.file.lastRow()
	if err != nil || !ok {
		return time.Time{}, false, err
	}

	ts, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse ledger timestamp %q: %w", record[0], err)
	}

	return ts, true, nil
}

// KeysSince returns the uniqueness keys of every trade at or after since.
// The transform engine seeds its dedup set from this on resume: fills are
// delivered in approximately ascending order, so only records near the
// cursor can reappear.
func (l *Ledger) KeysSince(since time.Time) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	err := l.file.scan(func(record []string) error {
		ts, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			l.logger.Warn("skipping-ledger-record-bad-timestamp",
				zap.String("timestamp", record[0]))
			return nil
		}
		if ts.Before(since) {
			return nil
		}

		key := record[12] + "|" + record[2] + "|" + record[3] + "|" + record[10] + "|" + record[11]
		keys[key] = struct{}{}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

// Close flushes and closes the ledger file.
func (l *Ledger) Close() error {
	return l.file.Close()
}
