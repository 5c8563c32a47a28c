package storage

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/pkg/types"
)

var marketHeader = []string{
	"id",
	"question",
	"slug",
	"token1",
	"token2",
	"created_at",
	"closed_at",
	"volume",
	"closed",
}

// MarketLog is the append-only CSV file of discovered markets. Count feeds
// the markets-stage offset cursor when bootstrapping without a checkpoint,
// and ScanAll warms the registry on startup without touching the network.
type MarketLog struct {
	file   *appendFile
	logger *zap.Logger
}

func OpenMarketLog(path string, logger *zap.Logger) (*MarketLog, error) {
	file, err := openAppendFile(path, marketHeader, logger)
	if err != nil {
		return nil, err
	}

	return &MarketLog{file: file, logger: logger}, nil
}

// Append durably appends a batch of markets.
func (m *MarketLog) Append(markets []types.Market) error {
	if len(markets) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(markets))
	for _, mk := range markets {
		closedAt := ""
		if mk.ClosedAt != nil {
			closedAt = mk.ClosedAt.UTC().Format(time.RFC3339)
		}

		rows = append(rows, []string{
			mk.ID,
			mk.Question,
			mk.Slug,
			mk.Token1,
			mk.Token2,
			mk.CreatedAt.UTC().Format(time.RFC3339),
			closedAt,
			strconv.FormatFloat(mk.Volume, 'f', -1, 64),
			strconv.FormatBool(mk.Closed),
		})
	}

	return m.file.writeRows(rows)
}

// ScanAll streams every stored market through fn in file order.
func (m *MarketLog) ScanAll(fn func(types.Market) error) error {
	return m.file.scan(func(record []string) error {
		mk, ok := m.parseRecord(record)
		if !ok {
			return nil
		}

		return fn(mk)
	})
}

// Count returns the number of stored markets.
func (m *MarketLog) Count() (int, error) {
	n := 0
	err := m.file.scan(func([]string) error {
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

func (m *MarketLog) parseRecord(record []string) (types.Market, bool) {
	createdAt, err := time.Parse(time.RFC3339, record[5])
	if err != nil {
		m.logger.Warn("skipping-market-record-bad-timestamp",
			zap.String("market_id", record[0]),
			zap.String("created_at", record[5]))
		return types.Market{}, false
	}

	var closedAt *time.Time
	if record[6] != "" {
		t, err := time.Parse(time.RFC3339, record[6])
		if err == nil {
			closedAt = &t
		}
	}

	volume, _ := strconv.ParseFloat(record[7], 64)
	closed, _ := strconv.ParseBool(record[8])

	return types.Market{
		ID:        record[0],
		Question:  record[1],
		Slug:      record[2],
		Token1:    record[3],
		Token2:    record[4],
		CreatedAt: createdAt,
		ClosedAt:  closedAt,
		Volume:    volume,
		Closed:    closed,
	}, true
}

// Close flushes and closes the log file.
func (m *MarketLog) Close() error {
	return m.file.Close()
}
