// Package fundingsvc is the HTTP client for the external funding-rate
// aggregation service (spec §6). It is deliberately thin: the service
// already pre-normalizes rates to a per-second basis and ranks candidates;
// this client only transports and decodes. Grounded in
// 0xtitan6-polymarket-mm's resty usage for external HTTP APIs.
package fundingsvc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultTimeout = 5 * time.Second
	defaultRetries = 2
)

// RawOpportunity mirrors the aggregation service's JSON shape for one
// candidate pair.
type RawOpportunity struct {
	Symbol       string          `json:"symbol"`
	LongDex      string          `json:"long_dex"`
	ShortDex     string          `json:"short_dex"`
	Divergence   decimal.Decimal `json:"divergence"`
	LongRate     decimal.Decimal `json:"long_rate"`
	ShortRate    decimal.Decimal `json:"short_rate"`
	LongOIUSD    decimal.Decimal `json:"long_oi_usd"`
	ShortOIUSD   decimal.Decimal `json:"short_oi_usd"`
	NetProfitAPY decimal.Decimal `json:"net_profit_apy"`
}

type opportunitiesResponse struct {
	Opportunities []RawOpportunity `json:"opportunities"`
}

type compareResponse struct {
	Divergence decimal.Decimal `json:"divergence"`
	LongRate   decimal.Decimal `json:"long_rate"`
	ShortRate  decimal.Decimal `json:"short_rate"`
}

// Client wraps a resty client pointed at the aggregation service's base URL.
type Client struct {
	http *resty.Client
}

// New constructs a Client against baseURL with the spec's default
// timeout/retry posture (matching the teacher's executeLive retry loop in
// execution/executor.go).
func New(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetRetryCount(defaultRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(1 * time.Second)
	return &Client{http: c}
}

// Opportunities fetches ranked pair opportunities filtered by the given
// criteria. An empty dexes/symbols filter is omitted from the query.
func (c *Client) Opportunities(ctx context.Context, minProfitAPY, maxOIUSD decimal.Decimal, dexes, symbols []string) ([]RawOpportunity, error) {
	req := c.http.R().SetContext(ctx).
		SetQueryParam("min_profit", minProfitAPY.String()).
		SetQueryParam("max_oi_usd", maxOIUSD.String())
	if len(dexes) > 0 {
		req.SetQueryParam("dexes", strings.Join(dexes, ","))
	}
	if len(symbols) > 0 {
		req.SetQueryParam("symbols", strings.Join(symbols, ","))
	}

	var out opportunitiesResponse
	resp, err := req.SetResult(&out).Get("/api/v1/opportunities")
	if err != nil {
		return nil, fmt.Errorf("fundingsvc: opportunities request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fundingsvc: opportunities returned %s", resp.Status())
	}
	return out.Opportunities, nil
}

// Compare fetches the funding-rate comparison for one symbol across two
// named venues.
func (c *Client) Compare(ctx context.Context, symbol, dex1, dex2 string) (divergence, longRate, shortRate decimal.Decimal, err error) {
	var out compareResponse
	resp, reqErr := c.http.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("dex1", dex1).
		SetQueryParam("dex2", dex2).
		SetResult(&out).
		Get("/api/v1/funding-rates/compare")
	if reqErr != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("fundingsvc: compare request failed: %w", reqErr)
	}
	if resp.IsError() {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("fundingsvc: compare returned %s", resp.Status())
	}
	return out.Divergence, out.LongRate, out.ShortRate, nil
}

// Best fetches the single best opportunity for a symbol. ok is false on a
// 404 (no opportunity currently available), which is not treated as an
// error.
func (c *Client) Best(ctx context.Context, symbol string) (opp RawOpportunity, ok bool, err error) {
	var out RawOpportunity
	resp, reqErr := c.http.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/api/v1/opportunities/best")
	if reqErr != nil {
		return RawOpportunity{}, false, fmt.Errorf("fundingsvc: best request failed: %w", reqErr)
	}
	if resp.StatusCode() == 404 {
		return RawOpportunity{}, false, nil
	}
	if resp.IsError() {
		return RawOpportunity{}, false, fmt.Errorf("fundingsvc: best returned %s", resp.Status())
	}
	return out, true, nil
}
