package service

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"tickerwatch/internal/cache"
	"tickerwatch/internal/indicator"
	"tickerwatch/internal/model"
	"tickerwatch/internal/ringbuf"
	"tickerwatch/internal/store"
	"tickerwatch/internal/store/sqlite"
	"tickerwatch/internal/window"
)

type stubCalendar struct{}

func (stubCalendar) ORBWindowActive(time.Time) bool { return false }
func (stubCalendar) SessionOpen(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 14, 30, 0, 0, time.UTC)
}

func newTestService(t *testing.T, symbols ...string) (*Service, *store.Store) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db, nil)
	win := window.NewManager()
	eng := indicator.NewEngine(win, st, stubCalendar{}, symbols, "SPY", 500*time.Millisecond)
	svc := New(st, cache.New(), eng, nil, win, stubCalendar{}, symbols)
	return svc, st
}

func TestService_CurrentQuoteCacheThrough(t *testing.T) {
	svc, st := newTestService(t, "AAPL")
	ctx := context.Background()

	if q := svc.CurrentQuote(ctx, "AAPL"); q != nil {
		t.Fatalf("no data yet, got %+v", q)
	}

	if err := st.PutQuote(ctx, &model.Quote{Symbol: "AAPL", Price: 187.25, TS: time.Now()}); err != nil {
		t.Fatalf("put quote: %v", err)
	}

	q := svc.CurrentQuote(ctx, "AAPL")
	if q == nil || q.Price != 187.25 {
		t.Fatalf("expected stored quote, got %+v", q)
	}

	// Within the TTL the cached copy masks store updates
	if err := st.PutQuote(ctx, &model.Quote{Symbol: "AAPL", Price: 999, TS: time.Now()}); err != nil {
		t.Fatalf("put quote: %v", err)
	}
	if q := svc.CurrentQuote(ctx, "AAPL"); q.Price != 187.25 {
		t.Errorf("expected cached 187.25 within TTL, got %v", q.Price)
	}
}

func TestService_CurrentQuotesBatch(t *testing.T) {
	svc, st := newTestService(t, "AAPL", "MSFT", "NVDA")
	ctx := context.Background()

	for _, sym := range []string{"AAPL", "MSFT"} {
		if err := st.PutQuote(ctx, &model.Quote{Symbol: sym, Price: 100, TS: time.Now()}); err != nil {
			t.Fatalf("put %s: %v", sym, err)
		}
	}

	got := svc.CurrentQuotes(ctx, []string{"AAPL", "MSFT", "NVDA"})
	if len(got) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(got))
	}
	if got["AAPL"] == nil || got["MSFT"] == nil {
		t.Errorf("missing symbols: %v", got)
	}
	if _, ok := got["NVDA"]; ok {
		t.Error("symbol without data should be absent")
	}
}

func TestService_StrategyResults(t *testing.T) {
	svc, st := newTestService(t, "AAPL")
	ctx := context.Background()

	r, err := model.NewStrategyResult("AAPL", model.StrategyORB, time.Now(), json.RawMessage(`{"tier":2}`))
	if err != nil {
		t.Fatalf("build strategy: %v", err)
	}
	if err := st.PutStrategyResult(ctx, r); err != nil {
		t.Fatalf("put strategy: %v", err)
	}

	got := svc.StrategyResults(ctx, "AAPL", model.StrategyORB)
	if got == nil || string(got.Data) != `{"tier":2}` {
		t.Fatalf("strategy result: %+v", got)
	}

	if got := svc.StrategyResults(ctx, "AAPL", "unknown"); got != nil {
		t.Errorf("unknown strategy should be nil, got %+v", got)
	}
}

func TestService_Comprehensive(t *testing.T) {
	svc, st := newTestService(t, "AAPL")
	ctx := context.Background()

	if err := st.PutQuote(ctx, &model.Quote{Symbol: "AAPL", Price: 187.25, PreviousClose: 175.0, TS: time.Now()}); err != nil {
		t.Fatalf("put quote: %v", err)
	}
	r, err := model.NewStrategyResult("AAPL", model.StrategyVRS, time.Now(), json.RawMessage(`{"value":60}`))
	if err != nil {
		t.Fatalf("build strategy: %v", err)
	}
	if err := st.PutStrategyResult(ctx, r); err != nil {
		t.Fatalf("put strategy: %v", err)
	}

	comp := svc.Comprehensive(ctx, "AAPL")
	if comp.Quote == nil || comp.Quote.Price != 187.25 {
		t.Errorf("comprehensive quote: %+v", comp.Quote)
	}
	if want := (187.25 - 175.0) / 175.0 * 100; math.Abs(comp.ChangePct-want) > 1e-9 {
		t.Errorf("change percent: got %v, want %v", comp.ChangePct, want)
	}
	if comp.Strategies[model.StrategyVRS] == nil {
		t.Errorf("comprehensive strategies: %v", comp.Strategies)
	}
	if comp.Strategies[model.StrategyORB] != nil {
		t.Error("absent strategy should not appear")
	}
}

func TestService_ResetAllData(t *testing.T) {
	svc, st := newTestService(t, "AAPL")
	ctx := context.Background()

	if err := st.PutQuote(ctx, &model.Quote{Symbol: "AAPL", Price: 1, TS: time.Now()}); err != nil {
		t.Fatalf("put quote: %v", err)
	}
	svc.CurrentQuote(ctx, "AAPL") // warm the cache

	if err := svc.ResetAllData(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if q := svc.CurrentQuote(ctx, "AAPL"); q != nil {
		t.Errorf("reset should clear store and cache, got %+v", q)
	}
}

func TestService_Stats(t *testing.T) {
	svc, _ := newTestService(t, "AAPL", "MSFT")
	ctx := context.Background()

	svc.CurrentQuote(ctx, "AAPL") // one miss

	stats := svc.Stats()
	if stats.TrackedSymbols != 2 {
		t.Errorf("tracked symbols: %d", stats.TrackedSymbols)
	}
	if stats.CacheMisses == 0 {
		t.Error("expected at least one recorded cache miss")
	}
	if stats.StreamState != "disabled" {
		t.Errorf("stream state without orchestrator: %q", stats.StreamState)
	}
}

func TestService_TickPumpRecomputesTradedSymbols(t *testing.T) {
	svc, _ := newTestService(t, "AAPL", "MSFT")
	ctx := context.Background()

	var flushedN int
	var flushedLast time.Time
	svc.OnTicksFlushed = func(n int, last time.Time) {
		flushedN = n
		flushedLast = last
	}

	ring := ringbuf.New(64)
	svc.AttachTickSource(ring)

	base := time.Now().UTC().Truncate(time.Minute)
	ring.Push(model.Tick{Symbol: "AAPL", TS: base, Price: 100, Volume: 10})
	ring.Push(model.Tick{Symbol: "AAPL", TS: base.Add(time.Second), Price: 101, Volume: 5})

	svc.pumpTicks(ctx)

	// Ticks landed in the rolling window and the traded symbol was recomputed.
	if n := svc.windows.TickCount("AAPL"); n != 2 {
		t.Errorf("window tick count: %d", n)
	}
	if _, ok := svc.engine.Snapshot("AAPL"); !ok {
		t.Error("tick arrival should recompute indicators for the traded symbol")
	}
	if _, ok := svc.engine.Snapshot("MSFT"); ok {
		t.Error("symbols that did not trade must not be recomputed")
	}
	if flushedN != 2 || !flushedLast.Equal(base.Add(time.Second)) {
		t.Errorf("flush hook: n=%d last=%v", flushedN, flushedLast)
	}

	// Empty ring: the pump is a no-op and the hook stays quiet.
	flushedN = 0
	svc.pumpTicks(ctx)
	if flushedN != 0 {
		t.Error("empty drain must not fire the flush hook")
	}
}

func TestService_SeedIndicatorInputs(t *testing.T) {
	svc, st := newTestService(t, "AAPL")
	ctx := context.Background()

	// 20 daily candles with a 2% daily range
	now := time.Now().UTC()
	var candles []model.DailyCandle
	for i := 20; i >= 1; i-- {
		d := now.AddDate(0, 0, -i)
		candles = append(candles, model.DailyCandle{
			Symbol: "AAPL",
			Date:   time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
			Open:   100, High: 102, Low: 100, Close: 101, Volume: 1e6,
		})
	}
	if err := st.PutDailyCandles(ctx, candles); err != nil {
		t.Fatalf("put candles: %v", err)
	}

	// Opening five-minute bars for prior sessions
	var bars []model.Bar
	for i := 10; i >= 1; i-- {
		d := now.AddDate(0, 0, -i)
		bars = append(bars, model.Bar{
			Symbol: "AAPL",
			TS:     time.Date(d.Year(), d.Month(), d.Day(), 14, 30, 0, 0, time.UTC),
			Open:   100, High: 101, Low: 99, Close: 100.5, Volume: 500000,
		})
	}
	if err := st.PutFiveMinuteBars(ctx, bars); err != nil {
		t.Fatalf("put bars: %v", err)
	}

	// Seeding must not error or panic; the engine consumes the inputs on the
	// next calculation cycle.
	svc.SeedIndicatorInputs(ctx)
}
