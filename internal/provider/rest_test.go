package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_GetQuotesBatch(t *testing.T) {
	var gotSymbols string
	var requests int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/v1/quotes" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header: %q", auth)
		}
		gotSymbols = r.URL.Query().Get("symbols")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quotes":[
			{"symbol":"AAPL","price":187.25,"prevClose":185.0,"open":186.1,"high":188.0,"low":185.5,"ts":1710513000000},
			{"symbol":"MSFT","price":420.5,"prevClose":418.0,"open":419.0,"high":421.0,"low":417.5,"ts":1710513000000}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", nil)
	quotes, err := c.GetQuotes(context.Background(), []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("GetQuotes: %v", err)
	}

	if requests != 1 {
		t.Errorf("batch fetch should be one request, got %d", requests)
	}
	if gotSymbols != "AAPL,MSFT" {
		t.Errorf("symbols param: %q", gotSymbols)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if quotes[0].Symbol != "AAPL" || quotes[0].Price != 187.25 {
		t.Errorf("quote[0]: %+v", quotes[0])
	}
	want := time.UnixMilli(1710513000000).UTC()
	if !quotes[0].TS.Equal(want) {
		t.Errorf("ts: got %v, want %v", quotes[0].TS, want)
	}
}

func TestClient_GetQuotesEmpty(t *testing.T) {
	c := NewClient("http://unused", "k", nil)
	quotes, err := c.GetQuotes(context.Background(), nil)
	if err != nil || quotes != nil {
		t.Errorf("empty symbol list should short-circuit, got (%v, %v)", quotes, err)
	}
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	_, err := c.GetQuotes(context.Background(), []string{"AAPL"})
	if err != ErrRateLimited {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestClient_ConnectionLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	_, err := c.GetDailyCandles(context.Background(), "AAPL", time.Now().AddDate(0, 0, -30), time.Now())
	if err != ErrConnectionLimit {
		t.Errorf("expected ErrConnectionLimit, got %v", err)
	}
}

func TestClient_GetDailyCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/candles/daily" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if sym := r.URL.Query().Get("symbol"); sym != "SPY" {
			t.Errorf("symbol param: %q", sym)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candles":[
			{"symbol":"SPY","ts":1710288000000,"open":510,"high":512,"low":508,"close":511,"volume":80000000}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	candles, err := c.GetDailyCandles(context.Background(), "SPY", time.Now().AddDate(0, 0, -5), time.Now())
	if err != nil {
		t.Fatalf("GetDailyCandles: %v", err)
	}
	if len(candles) != 1 || candles[0].Close != 511 || candles[0].Volume != 80000000 {
		t.Errorf("candles: %+v", candles)
	}
}

func TestClient_ServerErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	_, err := c.GetQuotes(context.Background(), []string{"AAPL"})
	if err == nil {
		t.Fatal("expected error")
	}
	if msg := err.Error(); !strings.Contains(msg, "500") || !strings.Contains(msg, "upstream exploded") {
		t.Errorf("error should carry status and body: %v", err)
	}
}
