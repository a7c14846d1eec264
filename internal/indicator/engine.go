// Package indicator derives relative-strength, breakout and price-change
// signals from the window manager's live bars and ticks, publishes them to
// subscribers, and writes them through to the tiered store.
package indicator

import (
	"context"
	"log"
	"sync"
	"time"

	"tickerwatch/internal/model"
	"tickerwatch/internal/window"
)

// Calendar is the slice of the trading-calendar service the engine needs.
type Calendar interface {
	// ORBWindowActive reports whether t falls inside the opening-range
	// window (first five minutes of the session).
	ORBWindowActive(t time.Time) bool
	// SessionOpen returns the session open instant for t's trading day.
	SessionOpen(t time.Time) time.Time
}

// ResultStore is the write-through slice of the tiered store. Failures on
// these paths are logged and swallowed; the next cycle retries.
type ResultStore interface {
	PutIndicatorSnapshot(ctx context.Context, snap *model.IndicatorSnapshot) error
	PutStrategyResult(ctx context.Context, res *model.StrategyResult) error
}

// priceChangeHorizons for the tick-based delta path, in minutes.
var priceChangeHorizons = [3]int{1, 5, 15}

// Engine recomputes the indicator set per symbol on a fixed cadence and on
// demand after new ticks. One Engine serves all watched symbols.
type Engine struct {
	windows   *window.Manager
	store     ResultStore
	cal       Calendar
	symbols   []string
	benchmark string
	interval  time.Duration

	now func() time.Time

	mu      sync.RWMutex
	snaps   map[string]*model.IndicatorSnapshot
	adrPct  map[string]float64
	orbHist map[string][]int64

	subs *registry

	// Metrics hooks (optional)
	OnCycle  func(dur time.Duration)
	OnResult func()
}

// NewEngine creates an indicator engine over the given window manager.
func NewEngine(windows *window.Manager, store ResultStore, cal Calendar, symbols []string, benchmark string, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Engine{
		windows:   windows,
		store:     store,
		cal:       cal,
		symbols:   symbols,
		benchmark: benchmark,
		interval:  interval,
		now:       time.Now,
		snaps:     make(map[string]*model.IndicatorSnapshot, len(symbols)),
		adrPct:    make(map[string]float64, len(symbols)),
		orbHist:   make(map[string][]int64, len(symbols)),
		subs:      newRegistry(),
	}
}

// SetClock overrides the wall clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Run drives the calculation loop until ctx is cancelled. Failures inside a
// cycle never terminate the loop.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			for _, sym := range e.symbols {
				e.CalculateSymbol(ctx, sym)
			}
			if e.OnCycle != nil {
				e.OnCycle(time.Since(start))
			}
		}
	}
}

// SetADR stores a symbol's Average Daily Range percentage, refreshed by the
// sync orchestrator from daily candles.
func (e *Engine) SetADR(symbol string, adrPct float64) {
	e.mu.Lock()
	e.adrPct[symbol] = adrPct
	e.mu.Unlock()
}

// SetORBHistory stores a symbol's historical opening-range volumes.
func (e *Engine) SetORBHistory(symbol string, volumes []int64) {
	e.mu.Lock()
	e.orbHist[symbol] = append([]int64(nil), volumes...)
	e.mu.Unlock()
}

// RestoreSnapshot seeds the last persisted snapshot for a symbol so the
// dashboard is not cold after a restart. Called once at boot.
func (e *Engine) RestoreSnapshot(snap *model.IndicatorSnapshot) {
	if snap == nil || snap.Symbol == "" {
		return
	}
	e.mu.Lock()
	if _, exists := e.snaps[snap.Symbol]; !exists {
		e.snaps[snap.Symbol] = snap.Clone()
	}
	e.mu.Unlock()
}

// Snapshot returns the last published snapshot for a symbol.
func (e *Engine) Snapshot(symbol string) (*model.IndicatorSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap, ok := e.snaps[symbol]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// Subscribe registers a handler for a symbol's snapshots. If a snapshot
// already exists the handler receives it immediately, before the next cycle.
func (e *Engine) Subscribe(symbol string, h Handler) Subscription {
	sub := e.subs.add(symbol, h)
	if snap, ok := e.Snapshot(symbol); ok {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("[indicator] subscriber panic for %s: %v", symbol, rec)
				}
			}()
			h(snap)
		}()
	}
	return sub
}

// Unsubscribe removes a previously registered handler. Idempotent.
func (e *Engine) Unsubscribe(sub Subscription) {
	e.subs.remove(sub)
}

// CalculateSymbol recomputes every indicator for one symbol, merges the VRS
// horizons against the previous snapshot, persists non-null results, and
// publishes the new snapshot synchronously.
func (e *Engine) CalculateSymbol(ctx context.Context, symbol string) {
	now := e.now().UTC()

	price, havePrice := e.windows.LatestPrice(symbol)
	if !havePrice {
		// No data yet: nothing to compute, keep any restored snapshot.
		return
	}

	// Max horizon is 15m; one bar query covers every VRS horizon.
	stockBars := e.windows.BarsInWindow(symbol, 16*time.Minute)
	benchBars := stockBars
	if symbol != e.benchmark {
		benchBars = e.windows.BarsInWindow(e.benchmark, 16*time.Minute)
	}

	e.mu.RLock()
	stockADR := e.adrPct[symbol]
	benchADR := e.adrPct[e.benchmark]
	orbHist := e.orbHist[symbol]
	e.mu.RUnlock()

	snap := &model.IndicatorSnapshot{
		Symbol:      symbol,
		TS:          now,
		LatestPrice: price,
	}

	for _, h := range vrsHorizons {
		res := computeVRS(symbol, e.benchmark, stockBars, benchBars, stockADR, benchADR, h, now)
		snap.SetVRS(h, res)
	}

	snap.Calculations.PriceChanges = e.priceChanges(symbol, price, now)

	if e.cal != nil && e.cal.ORBWindowActive(now) {
		open := e.cal.SessionOpen(now)
		ticks := e.windows.TicksInWindow(symbol, now.Sub(open))
		if rb, ok := SummarizeTicks(ticks); ok {
			snap.Calculations.ORB5m = EvaluateORB(rb, orbHist, now)
		}
	}

	// Preserve-on-absence merge, VRS horizons only: a horizon that could not
	// be computed this cycle keeps its previously published value instead of
	// being cleared. Everything else is replaced wholesale, so ORB5m drops
	// out once the opening window has passed.
	e.mu.Lock()
	if prev, ok := e.snaps[symbol]; ok {
		for _, h := range vrsHorizons {
			if snap.VRS(h) == nil {
				snap.SetVRS(h, prev.VRS(h))
			}
		}
	}
	e.snaps[symbol] = snap
	e.mu.Unlock()

	e.persist(ctx, snap)
	e.subs.publish(symbol, snap.Clone())

	if e.OnResult != nil {
		e.OnResult()
	}
}

// priceChanges computes point-to-point deltas from the tick history; this
// path needs only a single historical price, so it is attempted even when
// no closed bar exists yet.
func (e *Engine) priceChanges(symbol string, latest float64, now time.Time) *model.PriceChangeResult {
	pc := &model.PriceChangeResult{ComputedAt: now}
	targets := [3]**float64{&pc.Change1m, &pc.Change5m, &pc.Change15m}
	for i, h := range priceChangeHorizons {
		prior, ok := e.windows.PriceAtTime(symbol, now.Add(-time.Duration(h)*time.Minute))
		if !ok || prior <= 0 {
			continue
		}
		delta := (latest - prior) / prior * 100
		*targets[i] = &delta
	}
	return pc
}

// persist writes the snapshot and each freshly computed per-horizon result
// through to the store. Store errors are logged, never propagated — the
// ingestion and calculation pipelines must not die on a storage hiccup.
func (e *Engine) persist(ctx context.Context, snap *model.IndicatorSnapshot) {
	if e.store == nil {
		return
	}
	if err := e.store.PutIndicatorSnapshot(ctx, snap); err != nil {
		log.Printf("[indicator] snapshot write for %s: %v", snap.Symbol, err)
	}

	for _, h := range vrsHorizons {
		res := snap.VRS(h)
		if res == nil || !res.ComputedAt.Equal(snap.TS) {
			continue // absent or carried over from an earlier cycle
		}
		sr, err := model.NewStrategyResult(snap.Symbol, model.StrategyVRS, snap.TS, res)
		if err != nil {
			continue
		}
		if err := e.store.PutStrategyResult(ctx, sr); err != nil {
			log.Printf("[indicator] vrs result write for %s: %v", snap.Symbol, err)
		}
	}

	if orb := snap.Calculations.ORB5m; orb != nil && orb.ComputedAt.Equal(snap.TS) {
		sr, err := model.NewStrategyResult(snap.Symbol, model.StrategyORB, snap.TS, orb)
		if err == nil {
			if err := e.store.PutStrategyResult(ctx, sr); err != nil {
				log.Printf("[indicator] orb result write for %s: %v", snap.Symbol, err)
			}
		}
		if orb.RelVolume > 0 {
			rv, err := model.NewStrategyResult(snap.Symbol, model.StrategyRVol, snap.TS,
				map[string]float64{"rel_volume": orb.RelVolume})
			if err == nil {
				if err := e.store.PutStrategyResult(ctx, rv); err != nil {
					log.Printf("[indicator] rvol result write for %s: %v", snap.Symbol, err)
				}
			}
		}
	}
}
