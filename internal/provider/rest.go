// Package provider talks to the upstream market-data service: a REST API
// for batch quotes and historical candles, and a websocket stream for live
// trades. The REST side paces itself with a token bucket so bursts of
// backfill work cannot trip the upstream quota on their own; the sync
// orchestrator's sliding-window limiter budgets the calls above this.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tickerwatch/internal/model"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned on an upstream 429. The sync orchestrator
// backs off hard when it sees this.
var ErrRateLimited = errors.New("provider: rate limited")

// ErrConnectionLimit is returned when the upstream rejects a request for
// too many concurrent connections (HTTP 409 on this provider).
var ErrConnectionLimit = errors.New("provider: connection limit reached")

// Client is the REST client.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	limiter *rate.Limiter
}

// NewClient creates a REST client. limiter may be nil to disable pacing.
func NewClient(baseURL, apiKey string, limiter *rate.Limiter) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		limiter: limiter,
	}
}

// Wire shapes. Timestamps are unix milliseconds.
type quoteDTO struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	PreviousClose float64 `json:"prevClose"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	TS            int64   `json:"ts"`
}

type candleDTO struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return ErrRateLimited
	case http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		return ErrConnectionLimit
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// GetQuotes fetches current quotes for up to 100 symbols in one request.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]model.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))

	var payload struct {
		Quotes []quoteDTO `json:"quotes"`
	}
	if err := c.get(ctx, "/v1/quotes", q, &payload); err != nil {
		return nil, err
	}

	out := make([]model.Quote, 0, len(payload.Quotes))
	for _, d := range payload.Quotes {
		out = append(out, model.Quote{
			Symbol:        d.Symbol,
			Price:         d.Price,
			PreviousClose: d.PreviousClose,
			Open:          d.Open,
			High:          d.High,
			Low:           d.Low,
			TS:            time.UnixMilli(d.TS).UTC(),
		})
	}
	return out, nil
}

// GetDailyCandles fetches daily candles for symbol in [from, to].
func (c *Client) GetDailyCandles(ctx context.Context, symbol string, from, to time.Time) ([]model.DailyCandle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))

	var payload struct {
		Candles []candleDTO `json:"candles"`
	}
	if err := c.get(ctx, "/v1/candles/daily", q, &payload); err != nil {
		return nil, err
	}

	out := make([]model.DailyCandle, 0, len(payload.Candles))
	for _, d := range payload.Candles {
		out = append(out, model.DailyCandle{
			Symbol: d.Symbol,
			Date:   time.UnixMilli(d.TS).UTC(),
			Open:   d.Open,
			High:   d.High,
			Low:    d.Low,
			Close:  d.Close,
			Volume: d.Volume,
		})
	}
	return out, nil
}

// GetMinuteBars fetches 1-minute bars for symbol in [from, to]. Used to
// backfill opening-range volume history.
func (c *Client) GetMinuteBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", fmt.Sprintf("%d", from.UnixMilli()))
	q.Set("to", fmt.Sprintf("%d", to.UnixMilli()))

	var payload struct {
		Bars []candleDTO `json:"bars"`
	}
	if err := c.get(ctx, "/v1/bars/1m", q, &payload); err != nil {
		return nil, err
	}

	out := make([]model.Bar, 0, len(payload.Bars))
	for _, d := range payload.Bars {
		out = append(out, model.Bar{
			Symbol: d.Symbol,
			TS:     time.UnixMilli(d.TS).UTC(),
			Open:   d.Open,
			High:   d.High,
			Low:    d.Low,
			Close:  d.Close,
			Volume: d.Volume,
		})
	}
	return out, nil
}
