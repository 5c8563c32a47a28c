package transform

import (
	"context"
	"errors"
	"time"

	"github.com/mselser95/polymarket-ledger/internal/registry"
	"github.com/mselser95/polymarket-ledger/pkg/types"
	"go.uber.org/zap"
)

// Resolver answers token → market questions for the engine. Satisfied by
// *registry.Registry.
type Resolver interface {
	Resolve(tokenID string) (registry.Mapping, error)
	Discover(ctx context.Context, tokenID string) (registry.Mapping, error)
}

// Status is the terminal state of one event's pass through the engine.
type Status int

const (
	// StatusEmitted means a CanonicalTrade was produced.
	StatusEmitted Status = iota
	// StatusDuplicate means the event's uniqueness key was already seen.
	StatusDuplicate
	// StatusMalformed means validation failed (both or neither asset id is
	// the quote sentinel in a way that is structurally wrong).
	StatusMalformed
	// StatusOutOfModel means neither asset id is the quote sentinel: a
	// token-for-token swap the price model cannot express. Counted
	// separately from malformed so it stays visible for investigation.
	StatusOutOfModel
	// StatusZeroAmount means the fill carries no token quantity.
	StatusZeroAmount
	// StatusParked means the market could not be resolved yet; the event is
	// retryable on a later pass.
	StatusParked
	// StatusRejected means the market resolution failed permanently for
	// this event (unknown token, conflicting metadata).
	StatusRejected
)

// Report aggregates per-batch outcome counts. Every skipped event is
// attributable to exactly one counter.
type Report struct {
	Processed  int
	Emitted    int
	Duplicates int
	Malformed  int
	OutOfModel int
	ZeroAmount int
	Parked     int
	Rejected   int
	PriceFlags int
}

// Add accumulates another report into r.
func (r *Report) Add(other Report) {
	r.Processed += other.Processed
	r.Emitted += other.Emitted
	r.Duplicates += other.Duplicates
	r.Malformed += other.Malformed
	r.OutOfModel += other.OutOfModel
	r.ZeroAmount += other.ZeroAmount
	r.Parked += other.Parked
	r.Rejected += other.Rejected
	r.PriceFlags += other.PriceFlags
}

// Engine converts raw fill events into canonical trades: validate, classify
// direction, resolve the market, descale amounts, derive price, emit.
// Idempotent: replaying an already-processed event is a silent duplicate.
//
// Not safe for concurrent use; the pipeline runs one engine per stage pass.
type Engine struct {
	resolver Resolver
	logger   *zap.Logger
	seen     map[string]struct{}
}

// New creates a new Engine around a resolver.
func New(resolver Resolver, logger *zap.Logger) *Engine {
	return &Engine{
		resolver: resolver,
		logger:   logger,
		seen:     make(map[string]struct{}),
	}
}

// SeedKeys preloads the duplicate index with uniqueness keys of trades
// already present in the ledger, so a resumed pass does not re-emit them.
func (e *Engine) SeedKeys(keys []string) {
	for _, k := range keys {
		e.seen[k] = struct{}{}
	}
}

// ProcessEvent runs one event through the state machine. The returned trade
// is only meaningful when status is StatusEmitted. The error carries the
// rejection or parking reason and is already accounted for; callers log and
// count, they do not abort the batch on it.
func (e *Engine) ProcessEvent(ctx context.Context, ev *types.RawFillEvent) (types.CanonicalTrade, Status, error) {
	key := ev.Key()
	if _, dup := e.seen[key]; dup {
		DuplicatesTotal.Inc()
		return types.CanonicalTrade{}, StatusDuplicate, nil
	}

	// Validate: exactly one side must carry the quote sentinel.
	makerIsQuote := ev.MakerAssetID == types.QuoteAssetID
	takerIsQuote := ev.TakerAssetID == types.QuoteAssetID

	switch {
	case makerIsQuote && takerIsQuote:
		MalformedTotal.Inc()
		return types.CanonicalTrade{}, StatusMalformed, &types.MalformedEventError{
			TxHash: ev.TxHash,
			Reason: "both asset ids are the quote sentinel",
		}
	case !makerIsQuote && !takerIsQuote:
		OutOfModelTotal.Inc()
		return types.CanonicalTrade{}, StatusOutOfModel, &types.MalformedEventError{
			TxHash: ev.TxHash,
			Reason: "neither asset id is the quote sentinel (token-for-token swap)",
		}
	}

	// Classify direction. The quote payer is buying outcome tokens.
	takerDir, makerDir := types.DirectionSell, types.DirectionBuy
	if takerIsQuote {
		takerDir, makerDir = types.DirectionBuy, types.DirectionSell
	}

	// Resolve the outcome token's market, discovering lazily on a miss.
	outcomeAssetID := ev.MakerAssetID
	if makerIsQuote {
		outcomeAssetID = ev.TakerAssetID
	}

	mapping, err := e.resolver.Resolve(outcomeAssetID)
	if errors.Is(err, types.ErrTokenNotFound) {
		mapping, err = e.resolver.Discover(ctx, outcomeAssetID)
	}
	if err != nil {
		var unresolved *types.UnresolvedMarketError
		if errors.As(err, &unresolved) {
			ParkedTotal.Inc()
			return types.CanonicalTrade{}, StatusParked, err
		}
		RejectedTotal.Inc()
		return types.CanonicalTrade{}, StatusRejected, err
	}

	// Descale the fixed-point amounts.
	var quoteRaw, tokenRaw int64
	if takerIsQuote {
		quoteRaw, tokenRaw = ev.TakerAmount, ev.MakerAmount
	} else {
		quoteRaw, tokenRaw = ev.MakerAmount, ev.TakerAmount
	}

	if tokenRaw == 0 {
		// No economic signal and no price to derive.
		ZeroAmountTotal.Inc()
		e.seen[key] = struct{}{}
		return types.CanonicalTrade{}, StatusZeroAmount, nil
	}

	quoteAmount := float64(quoteRaw) / types.AmountScale
	tokenAmount := float64(tokenRaw) / types.AmountScale
	price := quoteAmount / tokenAmount

	if price < 0 || price > 1 {
		// Outcome token prices live in [0, 1]; anything else is a data
		// quality signal, not grounds for rejection.
		PriceFlagsTotal.Inc()
		e.logger.Warn("price-outside-unit-interval",
			zap.Float64("price", price),
			zap.String("tx_hash", ev.TxHash),
			zap.String("market_id", mapping.MarketID))
	}

	trade := types.CanonicalTrade{
		Timestamp:      time.Unix(ev.Timestamp, 0).UTC(),
		MarketID:       mapping.MarketID,
		Maker:          ev.Maker,
		Taker:          ev.Taker,
		NonQuoteSide:   mapping.Side,
		MakerDirection: makerDir,
		TakerDirection: takerDir,
		Price:          price,
		QuoteAmount:    quoteAmount,
		TokenAmount:    tokenAmount,
		MakerAmountRaw: ev.MakerAmount,
		TakerAmountRaw: ev.TakerAmount,
		TxHash:         ev.TxHash,
	}

	e.seen[key] = struct{}{}
	EmittedTotal.Inc()

	return trade, StatusEmitted, nil
}
