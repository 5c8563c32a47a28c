package goldsky

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/polymarket-ledger/pkg/types"
	"go.uber.org/zap"
)

// Client is a GraphQL client for the Goldsky subgraph that indexes order
// fill events from the Polymarket CTF Exchange contract. It is the raw
// event feed for the pipeline: pull, paginated, ascending by timestamp.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger

	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// Config holds Goldsky client configuration.
type Config struct {
	GraphQLURL        string
	APIKey            string
	Logger            *zap.Logger
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewClient creates a new Goldsky subgraph client.
func NewClient(cfg *Config) *Client {
	return &Client{
		graphqlURL: cfg.GraphQLURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:            cfg.Logger,
		maxRetries:        cfg.MaxRetries,
		initialBackoff:    cfg.InitialBackoff,
		maxBackoff:        cfg.MaxBackoff,
		backoffMultiplier: cfg.BackoffMultiplier,
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const orderFillsQuery = `
	query OrderFills($since: BigInt!, $first: Int!) {
		orderFilledEvents(
			first: $first
			orderBy: timestamp
			orderDirection: asc
			where: { timestamp_gt: $since }
		) {
			transactionHash
			timestamp
			maker
			makerAssetId
			makerAmountFilled
			taker
			takerAssetId
			takerAmountFilled
		}
	}
`

// FetchOrderFills returns up to first fill events with timestamp strictly
// greater than since, ascending. The subgraph may redeliver events at page
// boundaries; downstream deduplication by uniqueness key covers that.
func (c *Client) FetchOrderFills(ctx context.Context, since int64, first int) ([]types.RawFillEvent, error) {
	variables := map[string]any{
		"since": strconv.FormatInt(since, 10),
		"first": first,
	}

	respData, err := c.doQuery(ctx, orderFillsQuery, variables)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderFilledEvents []struct {
			TransactionHash   string `json:"transactionHash"`
			Timestamp         string `json:"timestamp"`
			Maker             string `json:"maker"`
			MakerAssetID      string `json:"makerAssetId"`
			MakerAmountFilled string `json:"makerAmountFilled"`
			Taker             string `json:"taker"`
			TakerAssetID      string `json:"takerAssetId"`
			TakerAmountFilled string `json:"takerAmountFilled"`
		} `json:"orderFilledEvents"`
	}

	err = json.Unmarshal(respData, &result)
	if err != nil {
		return nil, fmt.Errorf("decode order fills: %w", err)
	}

	fills := make([]types.RawFillEvent, 0, len(result.OrderFilledEvents))
	dropped := 0
	for _, e := range result.OrderFilledEvents {
		ts, tsErr := strconv.ParseInt(e.Timestamp, 10, 64)
		makerAmt, makerErr := strconv.ParseInt(e.MakerAmountFilled, 10, 64)
		takerAmt, takerErr := strconv.ParseInt(e.TakerAmountFilled, 10, 64)
		if tsErr != nil || makerErr != nil || takerErr != nil {
			dropped++
			c.logger.Warn("unparseable-fill-event-dropped",
				zap.String("tx_hash", e.TransactionHash),
				zap.String("timestamp", e.Timestamp))
			continue
		}

		fills = append(fills, types.RawFillEvent{
			Timestamp:    ts,
			Maker:        e.Maker,
			Taker:        e.Taker,
			MakerAssetID: e.MakerAssetID,
			MakerAmount:  makerAmt,
			TakerAssetID: e.TakerAssetID,
			TakerAmount:  takerAmt,
			TxHash:       types.NormalizeTxHash(e.TransactionHash),
		})
	}

	FillsFetchedTotal.Add(float64(len(fills)))
	if dropped > 0 {
		FillsDroppedTotal.Add(float64(dropped))
	}

	return fills, nil
}

// doQuery executes a GraphQL query with bounded exponential backoff on
// transport failures, rate limits and server errors.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	backoff := c.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		data, retryable, err := c.attemptQuery(ctx, query, variables)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !retryable {
			return nil, fmt.Errorf("goldsky query: %w", err)
		}

		QueryRetriesTotal.Inc()
		c.logger.Warn("goldsky-query-retrying",
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

	QueryErrorsTotal.Inc()

	return nil, &types.TransientNetworkError{Op: "goldsky query", Cause: lastErr}
}

func (c *Client) attemptQuery(ctx context.Context, query string, variables map[string]any) (data json.RawMessage, retryable bool, err error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	err = json.Unmarshal(body, &gqlResp)
	if err != nil {
		return nil, false, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, true, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, false, nil
}
