// Package subgraph backfills historical trades from a hosted indexer
// GraphQL endpoint. Live trades come from log replay; this client only
// covers the range before the local cursor.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"regexp"
	"time"

	"github.com/samber/hot"
	"github.com/tidwall/gjson"

	"github.com/duomarket/duomarket/internal/model"
)

var ErrBadResponse = errors.New("malformed subgraph response")

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

const (
	cacheTTL  = 5 * time.Minute
	cacheSize = 500

	// DefaultPageSize bounds one trades query; older history needs
	// additional pages via the `since` parameter.
	DefaultPageSize = 1000
)

const tradesQuery = `query($market: String!, $since: Int!, $first: Int!) {
  trades(
    where: { market: $market, timestamp_gte: $since }
    orderBy: timestamp
    orderDirection: asc
    first: $first
  ) {
    user
    tradeType
    usdcAmount
    tokenAmount
    priceE6
    timestamp
    txHash
    blockNumber
  }
}`

// Client queries the hosted subgraph with response caching. The cache
// key is the serialized request body, so revalidation can replay the
// exact query without extra bookkeeping.
type Client struct {
	endpoint   string
	httpClient *http.Client
	cache      *hot.HotCache[string, []byte]
}

// NewClient creates a subgraph client with caching.
func NewClient(endpoint string) *Client {
	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	c.cache = hot.NewHotCache[string, []byte](hot.LRU, cacheSize).
		WithTTL(cacheTTL).
		WithRevalidation(cacheTTL, c.loadQueries).
		WithRevalidationErrorPolicy(hot.KeepOnError).
		Build()

	return c
}

// loadQueries is the cache revalidation loader. Each key is a complete
// request body; failed queries keep their stale entries.
func (c *Client) loadQueries(bodies []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(bodies))
	var failed int

	for _, body := range bodies {
		data, err := c.post(context.Background(), body)
		if err != nil {
			slog.Warn("subgraph revalidation failed", "error", err)
			failed++
			continue
		}
		result[body] = data
	}

	if failed > 0 {
		slog.Warn("subgraph revalidation completed with errors",
			"total", len(bodies), "failed", failed, "succeeded", len(result))
	}
	return result, nil
}

// TradesSince returns up to limit trades for a market at or after the
// given unix timestamp, oldest first.
func (c *Client) TradesSince(ctx context.Context, market string, since int64, limit int) ([]model.TradeRecord, error) {
	if !addressPattern.MatchString(market) {
		return nil, model.ErrInvalidAddress
	}
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}

	body, err := json.Marshal(map[string]any{
		"query": tradesQuery,
		"variables": map[string]any{
			"market": market,
			"since":  since,
			"first":  limit,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}
	key := string(body)

	data, found, err := c.cache.Get(key)
	if err != nil {
		return nil, fmt.Errorf("cache error: %w", err)
	}
	if !found {
		data, err = c.post(ctx, key)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, data)
	}

	return parseTrades(market, data)
}

func (c *Client) post(ctx context.Context, body string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query subgraph: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subgraph error: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// parseTrades decodes a trades query response.
func parseTrades(market string, data []byte) ([]model.TradeRecord, error) {
	if msg := gjson.GetBytes(data, "errors.0.message"); msg.Exists() {
		return nil, fmt.Errorf("subgraph query failed: %s", msg.String())
	}

	rows := gjson.GetBytes(data, "data.trades")
	if !rows.Exists() || !rows.IsArray() {
		return nil, ErrBadResponse
	}

	trades := make([]model.TradeRecord, 0, len(rows.Array()))
	for _, row := range rows.Array() {
		tradeType, err := model.ParseTradeType(row.Get("tradeType").String())
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadResponse, err)
		}

		usdc, err := parseBigInt(row.Get("usdcAmount"))
		if err != nil {
			return nil, fmt.Errorf("%w: bad usdcAmount: %s", ErrBadResponse, row.Get("usdcAmount").String())
		}
		tokens, err := parseBigInt(row.Get("tokenAmount"))
		if err != nil {
			return nil, fmt.Errorf("%w: bad tokenAmount: %s", ErrBadResponse, row.Get("tokenAmount").String())
		}

		price := row.Get("priceE6").Int()
		if price < 0 || price > model.PriceE6Denom {
			return nil, fmt.Errorf("%w: fill price %d out of range", ErrBadResponse, price)
		}

		trades = append(trades, model.TradeRecord{
			Market:      market,
			User:        row.Get("user").String(),
			Type:        tradeType,
			USDCAmount:  usdc,
			TokenAmount: tokens,
			PriceE6:     price,
			Timestamp:   row.Get("timestamp").Int(),
			TxHash:      row.Get("txHash").String(),
			BlockNumber: row.Get("blockNumber").Uint(),
		})
	}
	return trades, nil
}

// parseBigInt reads a decimal string amount. Subgraphs serialize
// uint256 values as strings.
func parseBigInt(v gjson.Result) (*big.Int, error) {
	n, ok := new(big.Int).SetString(v.String(), 10)
	if !ok || n.Sign() < 0 {
		return nil, ErrBadResponse
	}
	return n, nil
}
