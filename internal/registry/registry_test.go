package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/pkg/types"
)

type fakeSource struct {
	markets map[string]types.Market
	err     error
	calls   int
}

func (f *fakeSource) LookupByToken(ctx context.Context, tokenID string) (types.Market, error) {
	f.calls++
	if f.err != nil {
		return types.Market{}, f.err
	}
	if m, ok := f.markets[tokenID]; ok {
		return m, nil
	}
	return types.Market{}, types.ErrTokenNotFound
}

func market(id, token1, token2 string) types.Market {
	return types.Market{
		ID:        id,
		Question:  "test question " + id,
		Slug:      "test-" + id,
		Token1:    token1,
		Token2:    token2,
		CreatedAt: time.Unix(1700000000, 0),
	}
}

func newTestRegistry(source DiscoverySource) *Registry {
	return New(&Config{
		Discovery:       source,
		Logger:          zap.NewNop(),
		NegativeTTL:     5 * time.Minute,
		BreakerFailures: 3,
		BreakerCooldown: time.Minute,
	})
}

func TestLoad_IndexesBothTokens(t *testing.T) {
	r := newTestRegistry(&fakeSource{})

	added, conflicts := r.Load([]types.Market{market("100", "t1", "t2")})
	if added != 1 || conflicts != 0 {
		t.Fatalf("expected 1 added 0 conflicts, got %d/%d", added, conflicts)
	}

	m1, err := r.Resolve("t1")
	if err != nil {
		t.Fatal(err)
	}
	if m1.MarketID != "100" || m1.Side != types.SideToken1 {
		t.Errorf("unexpected mapping %+v", m1)
	}

	m2, err := r.Resolve("t2")
	if err != nil {
		t.Fatal(err)
	}
	if m2.Side != types.SideToken2 {
		t.Errorf("expected token2 side, got %+v", m2)
	}
}

func TestLoad_IdempotentByMarketID(t *testing.T) {
	r := newTestRegistry(&fakeSource{})

	batch := []types.Market{market("100", "t1", "t2")}
	r.Load(batch)
	added, conflicts := r.Load(batch)

	if added != 0 || conflicts != 0 {
		t.Fatalf("reload must be a no-op, got added=%d conflicts=%d", added, conflicts)
	}
	if r.MarketCount() != 1 {
		t.Errorf("expected 1 market, got %d", r.MarketCount())
	}
}

func TestLoad_FirstMappingStaysAuthoritative(t *testing.T) {
	r := newTestRegistry(&fakeSource{})

	r.Load([]types.Market{market("100", "t1", "t2")})
	added, conflicts := r.Load([]types.Market{market("200", "t1", "t3")})

	if added != 0 || conflicts != 1 {
		t.Fatalf("expected conflict rejection, got added=%d conflicts=%d", added, conflicts)
	}

	m, err := r.Resolve("t1")
	if err != nil {
		t.Fatal(err)
	}
	if m.MarketID != "100" {
		t.Errorf("first mapping must win, got %s", m.MarketID)
	}

	if _, err := r.Resolve("t3"); !errors.Is(err, types.ErrTokenNotFound) {
		t.Errorf("rejected market must not be partially indexed")
	}
}

func TestLoad_SkipsMarketsWithoutTokens(t *testing.T) {
	r := newTestRegistry(&fakeSource{})

	added, _ := r.Load([]types.Market{market("100", "", "")})
	if added != 0 {
		t.Fatalf("tokenless market must be skipped, got added=%d", added)
	}
}

func TestResolve_UnknownToken(t *testing.T) {
	r := newTestRegistry(&fakeSource{})

	_, err := r.Resolve("nope")
	if !errors.Is(err, types.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestDiscover_InsertsAndResolves(t *testing.T) {
	source := &fakeSource{
		markets: map[string]types.Market{
			"t9": market("900", "t8", "t9"),
		},
	}
	r := newTestRegistry(source)

	m, err := r.Discover(context.Background(), "t9")
	if err != nil {
		t.Fatal(err)
	}
	if m.MarketID != "900" || m.Side != types.SideToken2 {
		t.Errorf("unexpected mapping %+v", m)
	}

	// Sibling token is indexed too.
	if _, err := r.Resolve("t8"); err != nil {
		t.Errorf("sibling token not indexed: %v", err)
	}
}

func TestDiscover_MemoizesMisses(t *testing.T) {
	source := &fakeSource{}
	r := newTestRegistry(source)

	for range 1000 {
		_, err := r.Discover(context.Background(), "unknown")
		if !errors.Is(err, types.ErrTokenNotFound) {
			t.Fatalf("expected ErrTokenNotFound, got %v", err)
		}
	}

	if source.calls != 1 {
		t.Fatalf("expected exactly 1 outbound call for a hot unknown token, got %d", source.calls)
	}
}

func TestDiscover_NegativeTTLExpires(t *testing.T) {
	source := &fakeSource{}
	r := newTestRegistry(source)

	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }

	_, _ = r.Discover(context.Background(), "unknown")
	_, _ = r.Discover(context.Background(), "unknown")
	if source.calls != 1 {
		t.Fatalf("expected cached miss, got %d calls", source.calls)
	}

	now = now.Add(6 * time.Minute)
	_, _ = r.Discover(context.Background(), "unknown")
	if source.calls != 2 {
		t.Fatalf("expected retry after TTL, got %d calls", source.calls)
	}
}

func TestDiscover_LoadClearsNegativeCache(t *testing.T) {
	source := &fakeSource{}
	r := newTestRegistry(source)

	_, _ = r.Discover(context.Background(), "t1")

	r.Load([]types.Market{market("100", "t1", "t2")})

	m, err := r.Discover(context.Background(), "t1")
	if err != nil {
		t.Fatalf("loaded token must resolve despite prior miss, got %v", err)
	}
	if m.MarketID != "100" {
		t.Errorf("unexpected mapping %+v", m)
	}
}

func TestDiscover_TransientFailureParks(t *testing.T) {
	source := &fakeSource{err: &types.TransientNetworkError{Op: "lookup", Cause: errors.New("timeout")}}
	r := newTestRegistry(source)

	_, err := r.Discover(context.Background(), "t1")

	var unresolved *types.UnresolvedMarketError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedMarketError, got %v", err)
	}

	parked := r.ParkedTokens()
	if len(parked) != 1 || parked[0] != "t1" {
		t.Errorf("expected t1 parked, got %v", parked)
	}
}

func TestDiscover_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	source := &fakeSource{err: &types.TransientNetworkError{Op: "lookup", Cause: errors.New("timeout")}}
	r := newTestRegistry(source)

	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }

	// Three distinct tokens fail; breaker threshold is 3.
	for _, token := range []string{"a", "b", "c"} {
		_, _ = r.Discover(context.Background(), token)
	}
	if source.calls != 3 {
		t.Fatalf("expected 3 calls before breaker opens, got %d", source.calls)
	}

	// Breaker open: new tokens are parked without an outbound call.
	_, err := r.Discover(context.Background(), "d")
	var unresolved *types.UnresolvedMarketError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedMarketError while open, got %v", err)
	}
	if source.calls != 3 {
		t.Fatalf("breaker open must suppress calls, got %d", source.calls)
	}

	// After cooldown the path closes again.
	now = now.Add(2 * time.Minute)
	source.err = nil
	source.markets = map[string]types.Market{"e": market("500", "e", "f")}

	m, err := r.Discover(context.Background(), "e")
	if err != nil {
		t.Fatalf("expected discovery after cooldown, got %v", err)
	}
	if m.MarketID != "500" {
		t.Errorf("unexpected mapping %+v", m)
	}
}

func TestDiscover_SuccessResetsBreakerCount(t *testing.T) {
	source := &fakeSource{
		markets: map[string]types.Market{
			"ok": market("700", "ok", "ok2"),
		},
		err: &types.TransientNetworkError{Op: "lookup", Cause: errors.New("timeout")},
	}
	r := newTestRegistry(source)

	_, _ = r.Discover(context.Background(), "a")
	_, _ = r.Discover(context.Background(), "b")

	source.err = nil
	if _, err := r.Discover(context.Background(), "ok"); err != nil {
		t.Fatal(err)
	}

	// Two more transient failures must not trip the threshold of 3.
	source.err = &types.TransientNetworkError{Op: "lookup", Cause: errors.New("timeout")}
	_, _ = r.Discover(context.Background(), "c")
	_, _ = r.Discover(context.Background(), "d")

	_, err := r.Discover(context.Background(), "e")
	var unresolved *types.UnresolvedMarketError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if source.calls != 6 {
		t.Fatalf("breaker must not be open, expected call through, got %d calls", source.calls)
	}
}

func TestDiscover_MarketWithoutRequestedToken(t *testing.T) {
	source := &fakeSource{
		markets: map[string]types.Market{
			"t1": market("100", "x", "y"),
		},
	}
	r := newTestRegistry(source)

	_, err := r.Discover(context.Background(), "t1")
	var unresolved *types.UnresolvedMarketError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedMarketError, got %v", err)
	}
}
