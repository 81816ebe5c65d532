// Package marketdata is the concrete HTTP collaborator CollectorRegistry
// tasks dial out to: a thin JSON REST client over one configurable base URL
// per provider, grounded on the teacher's internal/clients/yahoo.Client
// (plain *http.Client with a timeout, zerolog-bound, one typed decode per
// call) rather than anything provider-specific, since spec.md §1 leaves the
// real market-data/macro providers unspecified.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

// Client fetches bars for one provider's base URL.
type Client struct {
	http    *http.Client
	baseURL string
	log     zerolog.Logger
}

// NewClient builds a Client bound to one provider endpoint.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: 20 * time.Second},
		baseURL: baseURL,
		log:     log.With().Str("component", "marketdata").Str("base_url", baseURL).Logger(),
	}
}

// bar is the wire shape returned by the provider for one sampling interval.
type bar struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// barsResponse wraps the provider's array response plus an optional
// rate-limit/fatal-error signal, the same tagged shape the teacher's yahoo
// client decodes for its quote response envelope.
type barsResponse struct {
	Bars       []bar  `json:"bars"`
	Error      string `json:"error,omitempty"`
	RetryAfter bool   `json:"retry_after,omitempty"`
}

// OHLCVFetch returns a domain.FetchFunc that requests candles for symbol
// over [tLoMs, tHiMs] and maps the provider's response onto the tagged
// FetchResult variant (REDESIGN FLAGS: no panics, no bare errors).
func (c *Client) OHLCVFetch(seriesID, symbol string) domain.FetchFunc {
	return func(ctx context.Context, tLoMs, tHiMs int64) domain.FetchResult {
		resp, err := c.getBars(ctx, symbol, tLoMs, tHiMs)
		if err != nil {
			return domain.FetchResult{Err: err, Fatal: isFatal(err)}
		}
		if resp.Error != "" {
			return domain.FetchResult{Err: fmt.Errorf("marketdata: %s", resp.Error), Fatal: !resp.RetryAfter}
		}

		obs := make([]domain.Observation, 0, len(resp.Bars))
		for _, b := range resp.Bars {
			obs = append(obs, domain.Observation{
				SeriesID:    seriesID,
				TimestampMs: b.TimestampMs,
				Kind:        domain.PayloadOHLCV,
				OHLCV: &domain.OHLCV{
					Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
				},
			})
		}
		return domain.FetchResult{Observations: obs}
	}
}

// MacroFetch is OHLCVFetch's counterpart for scalar macro indicators
// (VIX, DXY): the provider's Close field is read as the indicator value.
func (c *Client) MacroFetch(seriesID, symbol string) domain.FetchFunc {
	return func(ctx context.Context, tLoMs, tHiMs int64) domain.FetchResult {
		resp, err := c.getBars(ctx, symbol, tLoMs, tHiMs)
		if err != nil {
			return domain.FetchResult{Err: err, Fatal: isFatal(err)}
		}
		if resp.Error != "" {
			return domain.FetchResult{Err: fmt.Errorf("marketdata: %s", resp.Error), Fatal: !resp.RetryAfter}
		}

		obs := make([]domain.Observation, 0, len(resp.Bars))
		for _, b := range resp.Bars {
			obs = append(obs, domain.Observation{
				SeriesID:    seriesID,
				TimestampMs: b.TimestampMs,
				Kind:        domain.PayloadMacro,
				Macro:       &domain.MacroValue{Value: b.Close},
			})
		}
		return domain.FetchResult{Observations: obs}
	}
}

func (c *Client) getBars(ctx context.Context, symbol string, tLoMs, tHiMs int64) (*barsResponse, error) {
	u := c.baseURL + "/bars?" + url.Values{
		"symbol": {symbol},
		"from":   {strconv.FormatInt(tLoMs, 10)},
		"to":     {strconv.FormatInt(tHiMs, 10)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: build request: %w", err)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return &barsResponse{Error: "rate limited", RetryAfter: true}, nil
	}
	if httpResp.StatusCode >= 500 {
		return &barsResponse{Error: fmt.Sprintf("provider error: %d", httpResp.StatusCode), RetryAfter: true}, nil
	}
	if httpResp.StatusCode >= 400 {
		return nil, fatalErr{fmt.Errorf("marketdata: symbol %q rejected: %d", symbol, httpResp.StatusCode)}
	}

	var resp barsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("marketdata: decode response: %w", err)
	}
	return &resp, nil
}

// fatalErr marks a rejected-request error (bad symbol, malformed call) as
// one no amount of retrying will fix, distinct from the transport/5xx
// failures the Scheduler should back off and retry instead.
type fatalErr struct{ error }

// isFatal reports whether err stems from a malformed request (operator must
// fix configuration) rather than a transient network/server condition.
func isFatal(err error) bool {
	_, ok := err.(fatalErr)
	return ok
}
