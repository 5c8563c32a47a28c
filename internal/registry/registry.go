package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mselser95/polymarket-ledger/pkg/types"
	"go.uber.org/zap"
)

// Mapping is the registry answer for one token id.
type Mapping struct {
	MarketID string
	Side     types.Side
}

// DiscoverySource looks up the market containing a token id.
// Implementations must distinguish a definitive miss (types.ErrTokenNotFound)
// from transient failures (types.TransientNetworkError).
type DiscoverySource interface {
	LookupByToken(ctx context.Context, tokenID string) (types.Market, error)
}

// missEntry records a token id whose discovery came back empty or failed,
// so repeated events referencing the same token do not trigger a discovery
// call each. Entries expire after the negative TTL.
type missEntry struct {
	until    time.Time
	notFound bool // definitive miss from the source, vs transient failure
}

// Registry maintains the authoritative token → (market, side) index. It is
// built from metadata batches and lazily extended through discovery lookups
// for tokens the batch sync has not caught up with yet.
//
// The index holds one entry per outcome token, bounded by market count, so
// it fits comfortably in memory even when the event feed does not.
type Registry struct {
	mu      sync.RWMutex
	byToken map[string]Mapping
	markets map[string]types.Market
	misses  map[string]missEntry
	parked  map[string]struct{}

	discovery DiscoverySource
	logger    *zap.Logger

	negativeTTL time.Duration

	// Discovery breaker: after breakerFailures consecutive transient
	// failures the discovery path stays closed until breakerOpenUntil, so a
	// flapping metadata source does not stall every event in a batch.
	breakerFailures  int
	breakerCooldown  time.Duration
	consecutiveFail  int
	breakerOpenUntil time.Time

	// Clock hook for tests.
	now func() time.Time
}

// Config holds registry configuration.
type Config struct {
	Discovery       DiscoverySource
	Logger          *zap.Logger
	NegativeTTL     time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// New creates a new Registry.
func New(cfg *Config) *Registry {
	return &Registry{
		byToken:         make(map[string]Mapping),
		markets:         make(map[string]types.Market),
		misses:          make(map[string]missEntry),
		parked:          make(map[string]struct{}),
		discovery:       cfg.Discovery,
		logger:          cfg.Logger,
		negativeTTL:     cfg.NegativeTTL,
		breakerFailures: cfg.BreakerFailures,
		breakerCooldown: cfg.BreakerCooldown,
		now:             time.Now,
	}
}

// Load merges a batch of markets into the index. Idempotent by market id.
// A market whose token ids collide with a different existing market or side
// is rejected and counted; the first successful mapping stays authoritative.
// Returns the number of markets added and the number rejected for conflicts.
func (r *Registry) Load(batch []types.Market) (added, conflicts int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range batch {
		m := batch[i]
		if !m.HasTokens() {
			continue
		}

		if existing, ok := r.markets[m.ID]; ok {
			if existing.Token1 == m.Token1 && existing.Token2 == m.Token2 {
				continue // duplicate page, silently deduped
			}
		}

		if conflict := r.findConflict(&m); conflict != nil {
			conflicts++
			ConflictsTotal.Inc()
			r.logger.Warn("conflicting-market-rejected",
				zap.String("token_id", conflict.TokenID),
				zap.String("existing_market_id", conflict.ExistingMarketID),
				zap.String("new_market_id", conflict.NewMarketID))
			continue
		}

		r.markets[m.ID] = m
		r.byToken[m.Token1] = Mapping{MarketID: m.ID, Side: types.SideToken1}
		r.byToken[m.Token2] = Mapping{MarketID: m.ID, Side: types.SideToken2}
		delete(r.misses, m.Token1)
		delete(r.misses, m.Token2)
		delete(r.parked, m.Token1)
		delete(r.parked, m.Token2)
		added++
	}

	TokensIndexed.Set(float64(len(r.byToken)))

	return added, conflicts
}

// findConflict returns the first token collision between m and the existing
// index, or nil. Callers hold the write lock.
func (r *Registry) findConflict(m *types.Market) *types.ConflictingMarketError {
	checks := []struct {
		token string
		side  types.Side
	}{
		{m.Token1, types.SideToken1},
		{m.Token2, types.SideToken2},
	}

	for _, c := range checks {
		existing, ok := r.byToken[c.token]
		if !ok {
			continue
		}
		if existing.MarketID != m.ID || existing.Side != c.side {
			return &types.ConflictingMarketError{
				TokenID:          c.token,
				ExistingMarketID: existing.MarketID,
				NewMarketID:      m.ID,
			}
		}
	}

	return nil
}

// Resolve returns the market mapping for a token id. O(1).
func (r *Registry) Resolve(tokenID string) (Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mapping, ok := r.byToken[tokenID]
	if !ok {
		return Mapping{}, types.ErrTokenNotFound
	}

	return mapping, nil
}

// Market returns the full metadata for a market id, if known.
func (r *Registry) Market(marketID string) (types.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[marketID]

	return m, ok
}

// Discover resolves a token id the batch sync does not know yet by querying
// the discovery source, inserting the result through Load. Memoized: a
// given unknown token triggers at most one outbound call; definitive misses
// and transient failures are both cached for the negative TTL so a hot
// unknown token cannot generate a call per event.
func (r *Registry) Discover(ctx context.Context, tokenID string) (Mapping, error) {
	// Already resolved, possibly by a concurrent discovery.
	if mapping, err := r.Resolve(tokenID); err == nil {
		return mapping, nil
	}

	r.mu.Lock()

	now := r.now()

	if entry, ok := r.misses[tokenID]; ok && now.Before(entry.until) {
		r.mu.Unlock()
		NegativeCacheHitsTotal.Inc()
		if entry.notFound {
			return Mapping{}, types.ErrTokenNotFound
		}
		return Mapping{}, &types.UnresolvedMarketError{TokenID: tokenID, Cause: errors.New("discovery backoff in effect")}
	}

	if now.Before(r.breakerOpenUntil) {
		r.parked[tokenID] = struct{}{}
		TokensParked.Set(float64(len(r.parked)))
		r.mu.Unlock()
		return Mapping{}, &types.UnresolvedMarketError{TokenID: tokenID, Cause: errors.New("discovery breaker open")}
	}

	r.mu.Unlock()

	DiscoveryCallsTotal.Inc()

	market, err := r.discovery.LookupByToken(ctx, tokenID)
	if err != nil {
		return Mapping{}, r.recordDiscoveryFailure(tokenID, err)
	}

	r.mu.Lock()
	r.consecutiveFail = 0
	r.mu.Unlock()

	r.Load([]types.Market{market})

	mapping, err := r.Resolve(tokenID)
	if err != nil {
		// Discovery returned a market that does not actually contain the
		// token, or the load conflicted with an existing mapping.
		r.mu.Lock()
		r.misses[tokenID] = missEntry{until: r.now().Add(r.negativeTTL)}
		r.mu.Unlock()
		DiscoveryFailuresTotal.Inc()
		return Mapping{}, &types.UnresolvedMarketError{TokenID: tokenID, Cause: errors.New("discovered market rejected by registry")}
	}

	r.logger.Info("market-discovered",
		zap.String("token_id", tokenID),
		zap.String("market_id", mapping.MarketID),
		zap.String("side", string(mapping.Side)))

	return mapping, nil
}

// recordDiscoveryFailure caches the failed lookup and classifies the error
// for the caller: definitive misses stay ErrTokenNotFound, transient
// failures park the token for retry on a later pass.
func (r *Registry) recordDiscoveryFailure(tokenID string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case errors.Is(err, types.ErrTokenNotFound):
		r.consecutiveFail = 0
		r.misses[tokenID] = missEntry{until: r.now().Add(r.negativeTTL), notFound: true}
		DiscoveryMissesTotal.Inc()
		r.logger.Warn("token-unknown-to-discovery-source", zap.String("token_id", tokenID))
		return types.ErrTokenNotFound
	case types.IsTransient(err):
		r.consecutiveFail++
		if r.consecutiveFail >= r.breakerFailures {
			r.breakerOpenUntil = r.now().Add(r.breakerCooldown)
			BreakerOpensTotal.Inc()
			r.logger.Warn("discovery-breaker-opened",
				zap.Int("consecutive_failures", r.consecutiveFail),
				zap.Duration("cooldown", r.breakerCooldown))
		}
		r.misses[tokenID] = missEntry{until: r.now().Add(r.negativeTTL)}
		r.parked[tokenID] = struct{}{}
		TokensParked.Set(float64(len(r.parked)))
		DiscoveryFailuresTotal.Inc()
		return &types.UnresolvedMarketError{TokenID: tokenID, Cause: err}
	default:
		// Conflicting or otherwise unusable discovery data: surface it,
		// skip the event, never fatal to the batch.
		r.misses[tokenID] = missEntry{until: r.now().Add(r.negativeTTL)}
		DiscoveryFailuresTotal.Inc()
		return err
	}
}

// ParkedTokens returns token ids awaiting a discovery retry, eligible on
// the next processing pass.
func (r *Registry) ParkedTokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]string, 0, len(r.parked))
	for t := range r.parked {
		tokens = append(tokens, t)
	}

	return tokens
}

// Len returns the number of indexed token ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byToken)
}

// MarketCount returns the number of indexed markets.
func (r *Registry) MarketCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.markets)
}
