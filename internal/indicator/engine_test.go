package indicator

import (
	"context"
	"sync"
	"testing"
	"time"

	"tickerwatch/internal/model"
	"tickerwatch/internal/window"
)

// memStore records write-throughs for assertions.
type memStore struct {
	mu      sync.Mutex
	snaps   []*model.IndicatorSnapshot
	results []*model.StrategyResult
}

func (s *memStore) PutIndicatorSnapshot(_ context.Context, snap *model.IndicatorSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *memStore) PutStrategyResult(_ context.Context, res *model.StrategyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *memStore) resultNames() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, r := range s.results {
		out[r.Name]++
	}
	return out
}

// stubCalendar gates the ORB window explicitly.
type stubCalendar struct {
	active bool
	open   time.Time
}

func (c *stubCalendar) ORBWindowActive(time.Time) bool  { return c.active }
func (c *stubCalendar) SessionOpen(time.Time) time.Time { return c.open }

func feedRising(m *window.Manager, symbol string, base time.Time, minutes int, start, step float64) {
	for i := 0; i < minutes; i++ {
		for s := 0; s < 60; s += 15 {
			m.AddTick(model.Tick{
				Symbol: symbol,
				TS:     base.Add(time.Duration(i)*time.Minute + time.Duration(s)*time.Second),
				Price:  start + step*float64(i*60+s),
				Volume: 100,
			})
		}
	}
}

func feedFlat(m *window.Manager, symbol string, base time.Time, minutes int, price float64) {
	feedRising(m, symbol, base, minutes, price, 0)
}

func TestEngine_VRSOutperformance(t *testing.T) {
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	now := base.Add(6 * time.Minute)

	wm := window.NewManager()
	wm.SetClock(func() time.Time { return now })

	feedRising(wm, "AAPL", base, 6, 100, 0.01)
	feedFlat(wm, "SPY", base, 6, 500)

	st := &memStore{}
	eng := NewEngine(wm, st, &stubCalendar{}, []string{"AAPL", "SPY"}, "SPY", time.Second)
	eng.SetClock(func() time.Time { return now })
	eng.SetADR("AAPL", 2.0)
	eng.SetADR("SPY", 1.0)

	eng.CalculateSymbol(context.Background(), "AAPL")

	snap, ok := eng.Snapshot("AAPL")
	if !ok {
		t.Fatal("expected a snapshot")
	}
	vrs := snap.Calculations.VRS5m
	if vrs == nil {
		t.Fatal("expected VRS 5m result")
	}
	if vrs.Value <= 50 {
		t.Errorf("rising stock vs flat benchmark must score > 50, got %v", vrs.Value)
	}
	if names := st.resultNames(); names[model.StrategyVRS] == 0 {
		t.Error("expected vrs strategy results written through")
	}
}

func TestEngine_PreserveOnAbsence(t *testing.T) {
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	now := base.Add(6 * time.Minute)

	wm := window.NewManager()
	wm.SetClock(func() time.Time { return now })
	feedRising(wm, "AAPL", base, 6, 100, 0.01)
	feedFlat(wm, "SPY", base, 6, 500)

	eng := NewEngine(wm, &memStore{}, &stubCalendar{}, []string{"AAPL", "SPY"}, "SPY", time.Second)
	eng.SetClock(func() time.Time { return now })
	eng.SetADR("AAPL", 2.0)
	eng.SetADR("SPY", 1.0)

	eng.CalculateSymbol(context.Background(), "AAPL")
	first, _ := eng.Snapshot("AAPL")
	if first.Calculations.VRS5m == nil {
		t.Fatal("expected VRS 5m after first cycle")
	}
	want := first.Calculations.VRS5m.Value

	// Benchmark ADR disappears: the new cycle cannot compute any horizon.
	eng.SetADR("SPY", 0)
	eng.CalculateSymbol(context.Background(), "AAPL")

	second, _ := eng.Snapshot("AAPL")
	if second.Calculations.VRS5m == nil {
		t.Fatal("previous VRS value must be preserved, not cleared")
	}
	if second.Calculations.VRS5m.Value != want {
		t.Errorf("preserved value changed: want %v, got %v", want, second.Calculations.VRS5m.Value)
	}
	// The replaced snapshot still advances its own timestamp.
	if !second.TS.After(first.TS) && !second.TS.Equal(first.TS) {
		t.Error("snapshot timestamp must move forward")
	}
}

func TestEngine_PriceChangesIndependentOfVRS(t *testing.T) {
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	now := base.Add(90 * time.Second)

	wm := window.NewManager()
	wm.SetClock(func() time.Time { return now })
	// Only ~90 seconds of data: no 5m/15m VRS possible, but the 1m price
	// delta needs just one historical tick.
	feedRising(wm, "AAPL", base, 1, 100, 0.01)
	wm.AddTick(model.Tick{Symbol: "AAPL", TS: base.Add(85 * time.Second), Price: 101, Volume: 100})

	eng := NewEngine(wm, &memStore{}, &stubCalendar{}, []string{"AAPL"}, "SPY", time.Second)
	eng.SetClock(func() time.Time { return now })

	eng.CalculateSymbol(context.Background(), "AAPL")
	snap, _ := eng.Snapshot("AAPL")

	if snap.Calculations.VRS5m != nil {
		t.Error("expected no VRS 5m with 2 bars and no prior value")
	}
	pc := snap.Calculations.PriceChanges
	if pc == nil || pc.Change1m == nil {
		t.Fatal("expected 1m price change despite missing VRS")
	}
	if *pc.Change1m <= 0 {
		t.Errorf("expected positive 1m change, got %v", *pc.Change1m)
	}
}

func TestEngine_ORBDuringWindow(t *testing.T) {
	open := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	now := open.Add(4 * time.Minute)

	wm := window.NewManager()
	wm.SetClock(func() time.Time { return now })

	// Bullish opening range: open at the low, close at the high.
	prices := []float64{10.0, 9.9, 10.1, 10.3, 10.4}
	for i, p := range prices {
		wm.AddTick(model.Tick{Symbol: "AAPL", TS: open.Add(time.Duration(i) * 45 * time.Second), Price: p, Volume: 320_000})
	}

	st := &memStore{}
	eng := NewEngine(wm, st, &stubCalendar{active: true, open: open}, []string{"AAPL"}, "SPY", time.Second)
	eng.SetClock(func() time.Time { return now })
	eng.SetORBHistory("AAPL", histVolumes(10, 1_000_000))

	eng.CalculateSymbol(context.Background(), "AAPL")
	snap, _ := eng.Snapshot("AAPL")

	orb := snap.Calculations.ORB5m
	if orb == nil {
		t.Fatal("expected ORB result during the opening window")
	}
	if orb.Tier != model.ORBTierDark {
		t.Errorf("expected tier 2 at 1.6x relative volume, got %d", orb.Tier)
	}
	names := st.resultNames()
	if names[model.StrategyORB] == 0 || names[model.StrategyRVol] == 0 {
		t.Errorf("expected orb5m and rvol results written, got %v", names)
	}
}

func TestEngine_ORBClearsAfterWindow(t *testing.T) {
	open := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	now := open.Add(4 * time.Minute)

	wm := window.NewManager()
	wm.SetClock(func() time.Time { return now })
	prices := []float64{10.0, 9.9, 10.1, 10.3, 10.4}
	for i, p := range prices {
		wm.AddTick(model.Tick{Symbol: "AAPL", TS: open.Add(time.Duration(i) * 45 * time.Second), Price: p, Volume: 320_000})
	}

	cal := &stubCalendar{active: true, open: open}
	eng := NewEngine(wm, &memStore{}, cal, []string{"AAPL"}, "SPY", time.Second)
	eng.SetClock(func() time.Time { return now })
	eng.SetORBHistory("AAPL", histVolumes(10, 1_000_000))

	eng.CalculateSymbol(context.Background(), "AAPL")
	snap, _ := eng.Snapshot("AAPL")
	if snap.Calculations.ORB5m == nil {
		t.Fatal("expected ORB result during the opening window")
	}

	// Window closes; the next cycle must not carry the stale ORB result,
	// while price changes stay populated.
	cal.active = false
	now = open.Add(10 * time.Minute)
	eng.CalculateSymbol(context.Background(), "AAPL")
	snap, _ = eng.Snapshot("AAPL")
	if snap.Calculations.ORB5m != nil {
		t.Error("ORB result should clear once the opening window has passed")
	}
	if snap.Calculations.PriceChanges == nil {
		t.Error("price changes should still be computed")
	}
}

func TestEngine_SubscribeReplayAndPanicIsolation(t *testing.T) {
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	now := base.Add(2 * time.Minute)

	wm := window.NewManager()
	wm.SetClock(func() time.Time { return now })
	feedFlat(wm, "AAPL", base, 2, 100)

	eng := NewEngine(wm, &memStore{}, &stubCalendar{}, []string{"AAPL"}, "SPY", time.Second)
	eng.SetClock(func() time.Time { return now })
	eng.CalculateSymbol(context.Background(), "AAPL")

	// A new subscriber receives the last snapshot immediately.
	got := 0
	sub := eng.Subscribe("AAPL", func(s *model.IndicatorSnapshot) { got++ })
	if got != 1 {
		t.Fatalf("expected immediate replay to new subscriber, got %d calls", got)
	}

	// A panicking handler must not break publishing to others.
	bad := eng.Subscribe("AAPL", func(*model.IndicatorSnapshot) { panic("boom") })
	eng.CalculateSymbol(context.Background(), "AAPL")
	if got != 2 {
		t.Errorf("good subscriber missed a publish: %d", got)
	}

	eng.Unsubscribe(bad)
	eng.Unsubscribe(sub)
	eng.Unsubscribe(sub) // idempotent
	eng.CalculateSymbol(context.Background(), "AAPL")
	if got != 2 {
		t.Errorf("unsubscribed handler still invoked: %d", got)
	}
}

func TestEngine_RestoreSnapshotColdStart(t *testing.T) {
	wm := window.NewManager()
	eng := NewEngine(wm, &memStore{}, &stubCalendar{}, []string{"AAPL"}, "SPY", time.Second)

	v := 61.5
	eng.RestoreSnapshot(&model.IndicatorSnapshot{
		Symbol:      "AAPL",
		TS:          time.Now().Add(-time.Hour),
		LatestPrice: 99,
		Calculations: model.Calculations{
			VRS5m: &model.VRSResult{Value: v, HorizonMinutes: 5},
		},
	})

	snap, ok := eng.Snapshot("AAPL")
	if !ok {
		t.Fatal("expected restored snapshot")
	}
	if snap.Calculations.VRS5m == nil || snap.Calculations.VRS5m.Value != v {
		t.Errorf("restored VRS lost: %+v", snap.Calculations)
	}
}
