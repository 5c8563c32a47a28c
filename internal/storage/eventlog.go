package storage

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/pkg/types"
)

var eventHeader = []string{
	"timestamp",
	"maker",
	"maker_asset_id",
	"maker_amount",
	"taker",
	"taker_asset_id",
	"taker_amount",
	"tx_hash",
}

// EventLog is the append-only CSV file of raw fill events as fetched from
// the subgraph. The same format backs the parked-fills log, which holds
// events whose outcome asset could not yet be resolved to a market.
type EventLog struct {
	file   *appendFile
	logger *zap.Logger
}

func OpenEventLog(path string, logger *zap.Logger) (*EventLog, error) {
	file, err := openAppendFile(path, eventHeader, logger)
	if err != nil {
		return nil, err
	}

	return &EventLog{file: file, logger: logger}, nil
}

// Append durably appends a batch of raw events.
func (e *EventLog) Append(events []types.RawFillEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			strconv.FormatInt(ev.Timestamp, 10),
			ev.Maker,
			ev.MakerAssetID,
			strconv.FormatInt(ev.MakerAmount, 10),
			ev.Taker,
			ev.TakerAssetID,
			strconv.FormatInt(ev.TakerAmount, 10),
			ev.TxHash,
		})
	}

	err := e.file.writeRows(rows)
	if err != nil {
		return err
	}

	EventsAppendedTotal.Add(float64(len(events)))

	return nil
}

// LastTimestamp returns the unix timestamp of the final event, or 0 when
// the log is empty. Zero starts a fetch from the beginning of history.
func (e *EventLog) LastTimestamp() (int64, error) {
	record, ok, err := e.file.lastRow()
	if err != nil || !ok {
		return 0, err
	}

	ts, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		e.logger.Warn("event-log-bad-tail-timestamp", zap.String("timestamp", record[0]))
		return 0, nil
	}

	return ts, nil
}

// ScanSince streams every event with timestamp >= since through fn in file
// order. Records that fail to parse are skipped with a warning; they cannot
// round-trip from Append and indicate manual edits.
func (e *EventLog) ScanSince(since int64, fn func(types.RawFillEvent) error) error {
	return e.file.scan(func(record []string) error {
		ev, ok := e.parseRecord(record)
		if !ok {
			return nil
		}
		if ev.Timestamp < since {
			return nil
		}

		return fn(ev)
	})
}

// Rewrite replaces the log contents with the given events. Used by the
// parked-fills log after a processing pass: still-unresolved events are
// written back, resolved ones drop out.
func (e *EventLog) Rewrite(events []types.RawFillEvent) error {
	err := e.file.reset()
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	return e.Append(events)
}

func (e *EventLog) parseRecord(record []string) (types.RawFillEvent, bool) {
	ts, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		e.logger.Warn("skipping-event-record-bad-timestamp", zap.String("timestamp", record[0]))
		return types.RawFillEvent{}, false
	}

	makerAmount, err := strconv.ParseInt(record[3], 10, 64)
	if err != nil {
		e.logger.Warn("skipping-event-record-bad-amount", zap.String("maker_amount", record[3]))
		return types.RawFillEvent{}, false
	}

	takerAmount, err := strconv.ParseInt(record[6], 10, 64)
	if err != nil {
		e.logger.Warn("skipping-event-record-bad-amount", zap.String("taker_amount", record[6]))
		return types.RawFillEvent{}, false
	}

	return types.RawFillEvent{
		Timestamp:    ts,
		Maker:        record[1],
		MakerAssetID: record[2],
		MakerAmount:  makerAmount,
		Taker:        record[4],
		TakerAssetID: record[5],
		TakerAmount:  takerAmount,
		TxHash:       record[7],
	}, true
}

// Close flushes and closes the log file.
func (e *EventLog) Close() error {
	return e.file.Close()
}
