package transform

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/internal/registry"
	"github.com/mselser95/polymarket-ledger/pkg/types"
)

type fakeResolver struct {
	mappings      map[string]registry.Mapping
	discoverErr   error
	discoverCalls int
}

func (f *fakeResolver) Resolve(tokenID string) (registry.Mapping, error) {
	if m, ok := f.mappings[tokenID]; ok {
		return m, nil
	}
	return registry.Mapping{}, types.ErrTokenNotFound
}

func (f *fakeResolver) Discover(ctx context.Context, tokenID string) (registry.Mapping, error) {
	f.discoverCalls++
	if f.discoverErr != nil {
		return registry.Mapping{}, f.discoverErr
	}
	return registry.Mapping{}, types.ErrTokenNotFound
}

func newTestEngine(resolver Resolver) *Engine {
	return New(resolver, zap.NewNop())
}

const outcomeToken = "71321045679252212594626385532706912750332728571942532289631379312455583992563"

func knownResolver() *fakeResolver {
	return &fakeResolver{
		mappings: map[string]registry.Mapping{
			outcomeToken: {MarketID: "516713", Side: types.SideToken1},
		},
	}
}

func takerBuyFill() types.RawFillEvent {
	return types.RawFillEvent{
		Timestamp:    1700000000,
		Maker:        "0xmaker",
		Taker:        "0xtaker",
		MakerAssetID: outcomeToken,
		MakerAmount:  1000_000000,
		TakerAssetID: types.QuoteAssetID,
		TakerAmount:  500_000000,
		TxHash:       "0x" + "ab" + "cd",
	}
}

func TestProcessEvent_TakerPaysQuote(t *testing.T) {
	engine := newTestEngine(knownResolver())
	ev := takerBuyFill()

	trade, status, err := engine.ProcessEvent(context.Background(), &ev)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status != StatusEmitted {
		t.Fatalf("expected emitted, got %v", status)
	}

	if trade.TakerDirection != types.DirectionBuy {
		t.Errorf("taker paying quote should be BUY, got %s", trade.TakerDirection)
	}
	if trade.MakerDirection != types.DirectionSell {
		t.Errorf("maker should be SELL, got %s", trade.MakerDirection)
	}
	if trade.Price != 0.5 {
		t.Errorf("expected price 0.5, got %f", trade.Price)
	}
	if trade.QuoteAmount != 500 {
		t.Errorf("expected quote amount 500, got %f", trade.QuoteAmount)
	}
	if trade.TokenAmount != 1000 {
		t.Errorf("expected token amount 1000, got %f", trade.TokenAmount)
	}
	if trade.MarketID != "516713" {
		t.Errorf("expected market 516713, got %s", trade.MarketID)
	}
	if trade.NonQuoteSide != types.SideToken1 {
		t.Errorf("expected side token1, got %s", trade.NonQuoteSide)
	}
	if trade.Timestamp.Unix() != 1700000000 {
		t.Errorf("unexpected timestamp %v", trade.Timestamp)
	}
}

func TestProcessEvent_MakerPaysQuote(t *testing.T) {
	engine := newTestEngine(knownResolver())
	ev := takerBuyFill()
	ev.MakerAssetID, ev.TakerAssetID = ev.TakerAssetID, ev.MakerAssetID
	ev.MakerAmount, ev.TakerAmount = ev.TakerAmount, ev.MakerAmount

	trade, status, err := engine.ProcessEvent(context.Background(), &ev)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status != StatusEmitted {
		t.Fatalf("expected emitted, got %v", status)
	}

	if trade.MakerDirection != types.DirectionBuy {
		t.Errorf("maker paying quote should be BUY, got %s", trade.MakerDirection)
	}
	if trade.TakerDirection != types.DirectionSell {
		t.Errorf("taker should be SELL, got %s", trade.TakerDirection)
	}
	if trade.Price != 0.5 {
		t.Errorf("expected price 0.5, got %f", trade.Price)
	}
}

func TestProcessEvent_Validation(t *testing.T) {
	tests := []struct {
		name         string
		makerAssetID string
		takerAssetID string
		expectStatus Status
	}{
		{
			name:         "both-sides-quote",
			makerAssetID: types.QuoteAssetID,
			takerAssetID: types.QuoteAssetID,
			expectStatus: StatusMalformed,
		},
		{
			name:         "token-for-token-swap",
			makerAssetID: outcomeToken,
			takerAssetID: "99999",
			expectStatus: StatusOutOfModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(knownResolver())
			ev := takerBuyFill()
			ev.MakerAssetID = tt.makerAssetID
			ev.TakerAssetID = tt.takerAssetID

			_, status, err := engine.ProcessEvent(context.Background(), &ev)
			if status != tt.expectStatus {
				t.Fatalf("expected status %v, got %v", tt.expectStatus, status)
			}

			var malformed *types.MalformedEventError
			if !errors.As(err, &malformed) {
				t.Errorf("expected MalformedEventError, got %v", err)
			}
		})
	}
}

func TestProcessEvent_Duplicate(t *testing.T) {
	engine := newTestEngine(knownResolver())
	ev := takerBuyFill()

	_, status, _ := engine.ProcessEvent(context.Background(), &ev)
	if status != StatusEmitted {
		t.Fatalf("first pass should emit, got %v", status)
	}

	_, status, err := engine.ProcessEvent(context.Background(), &ev)
	if err != nil {
		t.Fatalf("duplicate must be silent, got %v", err)
	}
	if status != StatusDuplicate {
		t.Fatalf("expected duplicate, got %v", status)
	}
}

func TestProcessEvent_SeededKeysAreDuplicates(t *testing.T) {
	engine := newTestEngine(knownResolver())
	ev := takerBuyFill()

	engine.SeedKeys([]string{ev.Key()})

	_, status, _ := engine.ProcessEvent(context.Background(), &ev)
	if status != StatusDuplicate {
		t.Fatalf("expected seeded key to dedup, got %v", status)
	}
}

func TestProcessEvent_ZeroTokenAmount(t *testing.T) {
	engine := newTestEngine(knownResolver())
	ev := takerBuyFill()
	ev.MakerAmount = 0 // outcome token side

	_, status, err := engine.ProcessEvent(context.Background(), &ev)
	if err != nil {
		t.Fatalf("zero amount skip must be silent, got %v", err)
	}
	if status != StatusZeroAmount {
		t.Fatalf("expected zero-amount, got %v", status)
	}

	// A zero-amount fill is consumed, not retried.
	_, status, _ = engine.ProcessEvent(context.Background(), &ev)
	if status != StatusDuplicate {
		t.Fatalf("expected replay to dedup, got %v", status)
	}
}

func TestProcessEvent_UnknownTokenTriggersDiscovery(t *testing.T) {
	resolver := knownResolver()
	engine := newTestEngine(resolver)
	ev := takerBuyFill()
	ev.MakerAssetID = "55555"

	_, status, _ := engine.ProcessEvent(context.Background(), &ev)
	if status != StatusRejected {
		t.Fatalf("expected rejected, got %v", status)
	}
	if resolver.discoverCalls != 1 {
		t.Errorf("expected exactly one discovery call, got %d", resolver.discoverCalls)
	}
}

func TestProcessEvent_TransientResolutionParks(t *testing.T) {
	resolver := knownResolver()
	resolver.discoverErr = &types.UnresolvedMarketError{
		TokenID: "55555",
		Cause:   errors.New("discovery backoff in effect"),
	}
	engine := newTestEngine(resolver)
	ev := takerBuyFill()
	ev.MakerAssetID = "55555"

	_, status, err := engine.ProcessEvent(context.Background(), &ev)
	if status != StatusParked {
		t.Fatalf("expected parked, got %v", status)
	}

	var unresolved *types.UnresolvedMarketError
	if !errors.As(err, &unresolved) {
		t.Errorf("expected UnresolvedMarketError, got %v", err)
	}

	// Parked events stay retryable: the key must not be consumed.
	resolver.discoverErr = nil
	resolver.mappings["55555"] = registry.Mapping{MarketID: "900", Side: types.SideToken2}

	trade, status, _ := engine.ProcessEvent(context.Background(), &ev)
	if status != StatusEmitted {
		t.Fatalf("expected retry to emit, got %v", status)
	}
	if trade.MarketID != "900" {
		t.Errorf("expected market 900, got %s", trade.MarketID)
	}
}

func TestProcessEvent_PriceOutsideUnitIntervalStillEmits(t *testing.T) {
	engine := newTestEngine(knownResolver())
	ev := takerBuyFill()
	ev.TakerAmount = 2000_000000 // quote side, price 2.0

	trade, status, err := engine.ProcessEvent(context.Background(), &ev)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status != StatusEmitted {
		t.Fatalf("flagged price must still emit, got %v", status)
	}
	if trade.Price != 2.0 {
		t.Errorf("expected price 2.0, got %f", trade.Price)
	}
}

func TestProcessEvent_MixedStream(t *testing.T) {
	engine := newTestEngine(knownResolver())

	evBuy := takerBuyFill()
	evDup := takerBuyFill()
	evSwap := takerBuyFill()
	evSwap.TakerAssetID = "99999"
	evSwap.TxHash = "0xswap"
	evFlag := takerBuyFill()
	evFlag.TakerAmount = 5000_000000
	evFlag.TxHash = "0xflag"

	events := []types.RawFillEvent{evBuy, evDup, evSwap, evFlag}
	statuses := make(map[Status]int)
	emitted := 0

	for i := range events {
		_, status, _ := engine.ProcessEvent(context.Background(), &events[i])
		statuses[status]++
		if status == StatusEmitted {
			emitted++
		}
	}

	if emitted != 2 {
		t.Fatalf("expected 2 trades, got %d", emitted)
	}
	if statuses[StatusDuplicate] != 1 {
		t.Errorf("expected 1 duplicate, got %d", statuses[StatusDuplicate])
	}
	if statuses[StatusOutOfModel] != 1 {
		t.Errorf("expected 1 out-of-model, got %d", statuses[StatusOutOfModel])
	}
}

func TestProcessEvent_Idempotence(t *testing.T) {
	engine := newTestEngine(knownResolver())

	ev := takerBuyFill()
	_, first, err := engine.ProcessEvent(context.Background(), &ev)
	if err != nil {
		t.Fatal(err)
	}
	if first != StatusEmitted {
		t.Fatalf("expected first pass to emit, got %v", first)
	}

	replay := takerBuyFill()
	_, second, err := engine.ProcessEvent(context.Background(), &replay)
	if err != nil {
		t.Fatal(err)
	}
	if second != StatusDuplicate {
		t.Fatalf("replay must be a silent duplicate, got %v", second)
	}
}
