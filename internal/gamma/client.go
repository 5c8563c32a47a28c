package gamma

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/polymarket-ledger/pkg/cache"
	"github.com/mselser95/polymarket-ledger/pkg/types"
	"go.uber.org/zap"
)

// MaxBatchSize is the maximum number of markets the Gamma API returns per
// request.
const MaxBatchSize = 500

// Client is an HTTP client for the Polymarket Gamma API. It is the market
// metadata source for the registry: paginated batch sync plus single-token
// discovery lookups.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	cache      cache.Cache
	cacheTTL   time.Duration

	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// Config holds Gamma client configuration.
type Config struct {
	BaseURL           string
	Logger            *zap.Logger
	Cache             cache.Cache // optional, memoizes token lookups
	CacheTTL          time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewClient creates a new Gamma API client.
func NewClient(cfg *Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:            cfg.Logger,
		cache:             cfg.Cache,
		cacheTTL:          cfg.CacheTTL,
		maxRetries:        cfg.MaxRetries,
		initialBackoff:    cfg.InitialBackoff,
		maxBackoff:        cfg.MaxBackoff,
		backoffMultiplier: cfg.BackoffMultiplier,
	}
}

// gammaMarket is the wire shape of one market. Outcomes and token ids arrive
// as JSON-encoded strings inside the JSON document.
type gammaMarket struct {
	ID         string `json:"id"`
	Question   string `json:"question"`
	Slug       string `json:"slug"`
	CreatedAt  string `json:"createdAt"`
	ClosedTime string `json:"closedTime"`
	Closed     bool   `json:"closed"`
	Volume     string `json:"volume"`
	ClobTokens string `json:"clobTokenIds"`
}

// toMarket converts the wire shape into a typed Market. Returns false for
// records missing a full token pair; those cannot be indexed.
func (g *gammaMarket) toMarket() (types.Market, bool) {
	var tokenIDs []string
	if g.ClobTokens != "" {
		if err := json.Unmarshal([]byte(g.ClobTokens), &tokenIDs); err != nil {
			return types.Market{}, false
		}
	}
	if len(tokenIDs) < 2 || tokenIDs[0] == "" || tokenIDs[1] == "" {
		return types.Market{}, false
	}

	m := types.Market{
		ID:       g.ID,
		Question: g.Question,
		Slug:     g.Slug,
		Token1:   tokenIDs[0],
		Token2:   tokenIDs[1],
		Closed:   g.Closed,
	}

	if t, err := time.Parse(time.RFC3339, g.CreatedAt); err == nil {
		m.CreatedAt = t
	}
	if g.ClosedTime != "" {
		if t, err := time.Parse(time.RFC3339, g.ClosedTime); err == nil {
			m.ClosedAt = &t
		}
	}
	if g.Volume != "" {
		if v, err := strconv.ParseFloat(g.Volume, 64); err == nil {
			m.Volume = v
		}
	}

	return m, true
}

// FetchMarkets fetches one page of markets ordered by creation time
// ascending. The API tolerates re-fetching a page; registry loads are
// idempotent by market id, so duplicate pages across restarts are safe.
func (c *Client) FetchMarkets(ctx context.Context, offset, limit int) ([]types.Market, error) {
	if limit <= 0 || limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	params := url.Values{}
	params.Add("order", "createdAt")
	params.Add("ascending", "true")
	params.Add("limit", strconv.Itoa(limit))
	params.Add("offset", strconv.Itoa(offset))

	requestURL := fmt.Sprintf("%s/markets?%s", c.baseURL, params.Encode())

	body, err := c.doGet(ctx, "fetch markets", requestURL)
	if err != nil {
		return nil, err
	}

	var raw []gammaMarket
	err = json.Unmarshal(body, &raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal markets response: %w", err)
	}

	markets := make([]types.Market, 0, len(raw))
	skipped := 0
	for i := range raw {
		m, ok := raw[i].toMarket()
		if !ok {
			skipped++
			continue
		}
		markets = append(markets, m)
	}

	if skipped > 0 {
		c.logger.Debug("markets-without-token-pair-skipped",
			zap.Int("skipped", skipped),
			zap.Int("offset", offset))
	}

	MarketsFetchedTotal.Add(float64(len(markets)))

	return markets, nil
}

// LookupByToken fetches the market containing the given outcome token id.
// Returns types.ErrTokenNotFound when the API knows no such market, and a
// ConflictingMarketError when the response names more than one market for
// the token.
func (c *Client) LookupByToken(ctx context.Context, tokenID string) (types.Market, error) {
	cacheKey := "token:" + tokenID
	if c.cache != nil {
		if cached, ok := c.cache.Get(cacheKey); ok {
			if m, ok := cached.(types.Market); ok {
				return m, nil
			}
		}
	}

	params := url.Values{}
	params.Add("clob_token_ids", tokenID)

	requestURL := fmt.Sprintf("%s/markets?%s", c.baseURL, params.Encode())

	TokenLookupsTotal.Inc()

	body, err := c.doGet(ctx, "lookup token", requestURL)
	if err != nil {
		return types.Market{}, err
	}

	var raw []gammaMarket
	err = json.Unmarshal(body, &raw)
	if err != nil {
		return types.Market{}, fmt.Errorf("unmarshal token lookup response: %w", err)
	}

	var found []types.Market
	for i := range raw {
		m, ok := raw[i].toMarket()
		if !ok {
			continue
		}
		if _, ok := m.TokenSide(tokenID); ok {
			found = append(found, m)
		}
	}

	if len(found) == 0 {
		return types.Market{}, types.ErrTokenNotFound
	}
	for i := 1; i < len(found); i++ {
		if found[i].ID != found[0].ID {
			return types.Market{}, &types.ConflictingMarketError{
				TokenID:          tokenID,
				ExistingMarketID: found[0].ID,
				NewMarketID:      found[i].ID,
			}
		}
	}

	if c.cache != nil {
		c.cache.Set(cacheKey, found[0], c.cacheTTL)
	}

	return found[0], nil
}

// doGet performs a GET with bounded exponential backoff on timeouts, rate
// limits and server errors. Client errors other than 429 are not retried.
func (c *Client) doGet(ctx context.Context, op, requestURL string) ([]byte, error) {
	backoff := c.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, retryable, err := c.attemptGet(ctx, requestURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		FetchRetriesTotal.Inc()
		c.logger.Warn("gamma-request-retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if attempt == c.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * c.backoffMultiplier)
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}

	FetchErrorsTotal.Inc()

	return nil, &types.TransientNetworkError{Op: op, Cause: lastErr}
}

func (c *Client) attemptGet(ctx context.Context, requestURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "polymarket-ledger/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts are retryable unless the context is done.
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	default:
		return nil, false, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
}
