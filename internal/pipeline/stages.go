package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/internal/gamma"
	"github.com/mselser95/polymarket-ledger/internal/goldsky"
	"github.com/mselser95/polymarket-ledger/internal/registry"
	"github.com/mselser95/polymarket-ledger/internal/storage"
	"github.com/mselser95/polymarket-ledger/internal/transform"
	"github.com/mselser95/polymarket-ledger/pkg/types"
)

const (
	StageMarkets = "markets"
	StageEvents  = "events"
	StageTrades  = "trades"
)

// MarketSyncStage pages market metadata from the gamma API into the market
// log and the registry. Its cursor is the pagination offset, which is also
// recoverable from the market log row count: the log is the durable side of
// the cursor, the checkpoint records it for status reporting.
type MarketSyncStage struct {
	client    *gamma.Client
	registry  *registry.Registry
	marketLog *storage.MarketLog
	batchSize int
	logger    *zap.Logger
}

// MarketSyncConfig holds market sync stage configuration.
type MarketSyncConfig struct {
	Client    *gamma.Client
	Registry  *registry.Registry
	MarketLog *storage.MarketLog
	BatchSize int
	Logger    *zap.Logger
}

// NewMarketSyncStage creates the market metadata sync stage.
func NewMarketSyncStage(cfg *MarketSyncConfig) *MarketSyncStage {
	return &MarketSyncStage{
		client:    cfg.Client,
		registry:  cfg.Registry,
		marketLog: cfg.MarketLog,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

// ID returns the stage identifier.
func (s *MarketSyncStage) ID() string { return StageMarkets }

// Run pages markets in creation order until a short page signals the end of
// the listing. Every fetched page is appended to the market log before the
// cursor moves, so a crash rewinds at most one page.
func (s *MarketSyncStage) Run(ctx context.Context, cursor string, progress ProgressFunc) (string, error) {
	offset, err := s.resolveOffset(cursor)
	if err != nil {
		return cursor, err
	}

	for {
		markets, err := s.client.FetchMarkets(ctx, offset, s.batchSize)
		if err != nil {
			return strconv.Itoa(offset), err
		}
		if len(markets) == 0 {
			break
		}

		added, conflicts := s.registry.Load(markets)

		err = s.marketLog.Append(markets)
		if err != nil {
			return strconv.Itoa(offset), err
		}

		offset += len(markets)

		err = progress(strconv.Itoa(offset), map[string]any{
			"markets_indexed": s.registry.MarketCount(),
		})
		if err != nil {
			return strconv.Itoa(offset), err
		}

		s.logger.Debug("market-page-synced",
			zap.Int("offset", offset),
			zap.Int("added", added),
			zap.Int("conflicts", conflicts))

		if len(markets) < s.batchSize {
			break
		}
	}

	return strconv.Itoa(offset), nil
}

// resolveOffset reconciles the checkpoint cursor with the market log. The
// log row count wins when it is ahead: rows written after the last
// checkpoint flush must not be fetched again.
func (s *MarketSyncStage) resolveOffset(cursor string) (int, error) {
	count, err := s.marketLog.Count()
	if err != nil {
		return 0, fmt.Errorf("count market log: %w", err)
	}

	if cursor == "" {
		return count, nil
	}

	offset, err := strconv.Atoi(cursor)
	if err != nil {
		s.logger.Warn("invalid-markets-cursor-using-log-count", zap.String("cursor", cursor))
		return count, nil
	}

	if count > offset {
		return count, nil
	}

	return offset, nil
}

// EventSyncStage pulls raw fill events from the subgraph into the event
// log. Its cursor is the unix timestamp of the last stored event.
type EventSyncStage struct {
	client    *goldsky.Client
	eventLog  *storage.EventLog
	batchSize int
	logger    *zap.Logger
}

// EventSyncConfig holds event sync stage configuration.
type EventSyncConfig struct {
	Client    *goldsky.Client
	EventLog  *storage.EventLog
	BatchSize int
	Logger    *zap.Logger
}

// NewEventSyncStage creates the raw event sync stage.
func NewEventSyncStage(cfg *EventSyncConfig) *EventSyncStage {
	return &EventSyncStage{
		client:    cfg.Client,
		eventLog:  cfg.EventLog,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

// ID returns the stage identifier.
func (s *EventSyncStage) ID() string { return StageEvents }

// Run fetches fills strictly after the cursor timestamp until a short page
// signals the head of the feed. Each page is synced to the event log before
// the cursor advances.
func (s *EventSyncStage) Run(ctx context.Context, cursor string, progress ProgressFunc) (string, error) {
	since, err := s.resolveSince(cursor)
	if err != nil {
		return cursor, err
	}

	total := 0

	for {
		fills, err := s.client.FetchOrderFills(ctx, since, s.batchSize)
		if err != nil {
			return strconv.FormatInt(since, 10), err
		}
		if len(fills) == 0 {
			break
		}

		err = s.eventLog.Append(fills)
		if err != nil {
			return strconv.FormatInt(since, 10), err
		}

		since = fills[len(fills)-1].Timestamp
		total += len(fills)

		err = progress(strconv.FormatInt(since, 10), map[string]any{
			"events_fetched": total,
		})
		if err != nil {
			return strconv.FormatInt(since, 10), err
		}

		if len(fills) < s.batchSize {
			break
		}
	}

	s.logger.Info("event-sync-caught-up",
		zap.Int64("cursor", since),
		zap.Int("fetched", total))

	return strconv.FormatInt(since, 10), nil
}

func (s *EventSyncStage) resolveSince(cursor string) (int64, error) {
	if cursor != "" {
		since, err := strconv.ParseInt(cursor, 10, 64)
		if err == nil {
			return since, nil
		}

		s.logger.Warn("invalid-events-cursor-using-log-tail", zap.String("cursor", cursor))
	}

	return s.eventLog.LastTimestamp()
}

// ProcessStage replays the event log through the transform engine and
// appends the resulting trades to the ledger. Its cursor is the timestamp
// of the last event it has processed, parked events included: parking moves
// the event to the parked log, it does not hold the cursor back.
type ProcessStage struct {
	registry   *registry.Registry
	eventLog   *storage.EventLog
	parkedLog  *storage.EventLog
	ledger     *storage.Ledger
	sink       storage.TradeSink // optional secondary output
	flushEvery int
	logger     *zap.Logger
}

// ProcessConfig holds processing stage configuration.
type ProcessConfig struct {
	Registry   *registry.Registry
	EventLog   *storage.EventLog
	ParkedLog  *storage.EventLog
	Ledger     *storage.Ledger
	Sink       storage.TradeSink
	FlushEvery int
	Logger     *zap.Logger
}

// NewProcessStage creates the event processing stage.
func NewProcessStage(cfg *ProcessConfig) *ProcessStage {
	return &ProcessStage{
		registry:   cfg.Registry,
		eventLog:   cfg.EventLog,
		parkedLog:  cfg.ParkedLog,
		ledger:     cfg.Ledger,
		sink:       cfg.Sink,
		flushEvery: cfg.FlushEvery,
		logger:     cfg.Logger,
	}
}

// ID returns the stage identifier.
func (s *ProcessStage) ID() string { return StageTrades }

// Run first retries every parked event, then streams the event log from the
// cursor. Events at the cursor timestamp are rescanned and silently deduped
// against the ledger, so shared timestamps at the resume boundary cannot
// drop records.
func (s *ProcessStage) Run(ctx context.Context, cursor string, progress ProgressFunc) (string, error) {
	since := int64(0)
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			s.logger.Warn("invalid-trades-cursor-restarting", zap.String("cursor", cursor))
		} else {
			since = parsed
		}
	}

	parked, err := s.readParked()
	if err != nil {
		return cursor, err
	}

	// Parked events are historical, so their trades can sit below the
	// cursor: a crash between flushing a resolved parked trade and the
	// end-of-pass compaction leaves both the trade and its source event
	// behind. The dedup seed must reach back to the oldest parked event or
	// the replay would append that trade a second time.
	seedSince := since
	for i := range parked {
		if parked[i].Timestamp < seedSince {
			seedSince = parked[i].Timestamp
		}
	}

	engine := transform.New(s.registry, s.logger)

	keys, err := s.ledger.KeysSince(time.Unix(seedSince, 0).UTC())
	if err != nil {
		return cursor, fmt.Errorf("seed duplicate index: %w", err)
	}
	seed := make([]string, 0, len(keys))
	for k := range keys {
		seed = append(seed, k)
	}
	engine.SeedKeys(seed)

	p := &processPass{
		stage:  s,
		engine: engine,
		cursor: since,
	}

	err = p.replayParked(ctx, parked)
	if err != nil {
		return p.cursorString(), err
	}

	err = s.eventLog.ScanSince(since, func(ev types.RawFillEvent) error {
		return p.handle(ctx, ev, progress)
	})
	if err != nil {
		return p.cursorString(), err
	}

	err = p.flush(ctx, progress)
	if err != nil {
		return p.cursorString(), err
	}

	// Compact the parked log down to what is still unresolved. Safe to do
	// only now: every resolved parked event's trade has been flushed.
	err = s.parkedLog.Rewrite(p.stillParked)
	if err != nil {
		return p.cursorString(), fmt.Errorf("rewrite parked log: %w", err)
	}

	s.logger.Info("processing-pass-complete",
		zap.Int64("cursor", p.cursor),
		zap.Int("processed", p.report.Processed),
		zap.Int("emitted", p.report.Emitted),
		zap.Int("duplicates", p.report.Duplicates),
		zap.Int("parked", p.report.Parked),
		zap.Int("rejected", p.report.Rejected),
		zap.Int("malformed", p.report.Malformed),
		zap.Int("out_of_model", p.report.OutOfModel),
		zap.Int("zero_amount", p.report.ZeroAmount),
		zap.Int("price_flags", p.report.PriceFlags))

	return p.cursorString(), nil
}

// processPass carries the mutable state of one Run: buffered trades waiting
// for a flush, parked events waiting for the end-of-pass compaction, and
// the advancing cursor.
type processPass struct {
	stage  *ProcessStage
	engine *transform.Engine
	cursor int64

	pending     []types.CanonicalTrade
	newlyParked []types.RawFillEvent
	stillParked []types.RawFillEvent
	report      transform.Report
}

// readParked loads the parked log for replay.
func (s *ProcessStage) readParked() ([]types.RawFillEvent, error) {
	var parked []types.RawFillEvent
	err := s.parkedLog.ScanSince(0, func(ev types.RawFillEvent) error {
		parked = append(parked, ev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan parked log: %w", err)
	}

	return parked, nil
}

// replayParked runs the parked log through the engine before the main scan.
// Resolved events turn into trades and drop out of the log; still-parked
// ones are carried to the compaction at the end of the pass. The cursor
// does not move here, parked events are historical.
func (p *processPass) replayParked(ctx context.Context, parked []types.RawFillEvent) error {
	if len(parked) == 0 {
		return nil
	}

	resolved := 0
	for i := range parked {
		err := ctx.Err()
		if err != nil {
			return err
		}

		trade, status, _ := p.engine.ProcessEvent(ctx, &parked[i])
		p.count(status)

		switch status {
		case transform.StatusEmitted:
			p.emit(trade)
			resolved++
		case transform.StatusParked:
			p.stillParked = append(p.stillParked, parked[i])
		}
	}

	p.stage.logger.Info("parked-events-replayed",
		zap.Int("total", len(parked)),
		zap.Int("resolved", resolved),
		zap.Int("still_parked", len(p.stillParked)))

	return nil
}

func (p *processPass) handle(ctx context.Context, ev types.RawFillEvent, progress ProgressFunc) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	trade, status, procErr := p.engine.ProcessEvent(ctx, &ev)
	p.count(status)

	switch status {
	case transform.StatusEmitted:
		p.emit(trade)
	case transform.StatusParked:
		p.newlyParked = append(p.newlyParked, ev)
	case transform.StatusRejected:
		p.stage.logger.Warn("event-rejected",
			zap.String("tx_hash", ev.TxHash),
			zap.Error(procErr))
	}

	// The cursor advances over every classified event, parked ones
	// included; the parked log is their retry path.
	p.cursor = ev.Timestamp

	if len(p.pending) >= p.stage.flushEvery {
		return p.flush(ctx, progress)
	}

	return nil
}

// flush makes buffered output durable, then moves the checkpoint. Order
// matters: parked events are appended before progress so a crash cannot
// advance the cursor past an event that is in neither log.
func (p *processPass) flush(ctx context.Context, progress ProgressFunc) error {
	if len(p.pending) > 0 {
		err := p.stage.ledger.AppendTrades(p.pending)
		if err != nil {
			return fmt.Errorf("append trades: %w", err)
		}

		if p.stage.sink != nil {
			err = p.stage.sink.StoreTrades(ctx, p.pending)
			if err != nil {
				return fmt.Errorf("store trades: %w", err)
			}
		}

		p.pending = p.pending[:0]
	}

	if len(p.newlyParked) > 0 {
		err := p.stage.parkedLog.Append(p.newlyParked)
		if err != nil {
			return fmt.Errorf("append parked events: %w", err)
		}

		p.stillParked = append(p.stillParked, p.newlyParked...)
		p.newlyParked = p.newlyParked[:0]
	}

	return progress(p.cursorString(), map[string]any{
		"emitted": p.report.Emitted,
		"parked":  p.report.Parked,
	})
}

// emit buffers a trade for the next flush. Prices outside [0,1] are
// emitted anyway but counted, so the pass summary surfaces them.
func (p *processPass) emit(trade types.CanonicalTrade) {
	p.pending = append(p.pending, trade)
	if trade.Price < 0 || trade.Price > 1 {
		p.report.PriceFlags++
	}
}

func (p *processPass) count(status transform.Status) {
	var one transform.Report
	one.Processed = 1

	switch status {
	case transform.StatusEmitted:
		one.Emitted = 1
	case transform.StatusDuplicate:
		one.Duplicates = 1
	case transform.StatusMalformed:
		one.Malformed = 1
	case transform.StatusOutOfModel:
		one.OutOfModel = 1
	case transform.StatusZeroAmount:
		one.ZeroAmount = 1
	case transform.StatusParked:
		one.Parked = 1
	case transform.StatusRejected:
		one.Rejected = 1
	}

	p.report.Add(one)
}

func (p *processPass) cursorString() string {
	return strconv.FormatInt(p.cursor, 10)
}
