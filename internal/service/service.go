// Package service is the composition root the presentation layer talks to:
// cache-through reads, live indicator subscriptions, and the operational
// controls. Transient read failures degrade to nil results and a log line;
// only operator-triggered actions (refresh, reset) surface errors.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"tickerwatch/internal/cache"
	"tickerwatch/internal/indicator"
	"tickerwatch/internal/model"
	"tickerwatch/internal/ringbuf"
	"tickerwatch/internal/store"
	watchsync "tickerwatch/internal/sync"
	"tickerwatch/internal/window"
)

// tickFlushEvery is the pump cadence: drained ticks are batched into the
// durable tier and touched symbols recomputed at most once per interval.
const tickFlushEvery = time.Second

// Comprehensive is the composite view for one symbol.
type Comprehensive struct {
	Symbol     string                           `json:"symbol"`
	Quote      *model.Quote                     `json:"quote,omitempty"`
	ChangePct  float64                          `json:"changePct"`
	Indicators *model.IndicatorSnapshot         `json:"indicators,omitempty"`
	Strategies map[string]*model.StrategyResult `json:"strategies,omitempty"`
}

// PerformanceStats is the operational counters summary.
type PerformanceStats struct {
	CacheHits      uint64 `json:"cacheHits"`
	CacheMisses    uint64 `json:"cacheMisses"`
	CacheSize      int    `json:"cacheSize"`
	CallsInWindow  int    `json:"rateCallsInWindow"`
	StreamState    string `json:"streamState"`
	TrackedSymbols int    `json:"trackedSymbols"`
	BufferedTicks  int    `json:"bufferedTicks"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
}

// Service wires the engine, store, cache, windows, and orchestrator.
type Service struct {
	store   *store.Store
	cache   *cache.Cache
	engine  *indicator.Engine
	orch    *watchsync.Orchestrator
	windows *window.Manager
	cal     indicator.Calendar
	symbols []string
	ring    *ringbuf.Ring

	// OnTicksFlushed fires after each pump flush with the batch size and the
	// newest tick timestamp. Optional.
	OnTicksFlushed func(n int, last time.Time)

	startedAt time.Time
	cancel    context.CancelFunc
}

// New creates the facade. All collaborators are required except orch, which
// may be nil in offline tooling.
func New(st *store.Store, qc *cache.Cache, eng *indicator.Engine, orch *watchsync.Orchestrator, win *window.Manager, cal indicator.Calendar, symbols []string) *Service {
	return &Service{
		store:     st,
		cache:     qc,
		engine:    eng,
		orch:      orch,
		windows:   win,
		cal:       cal,
		symbols:   symbols,
		startedAt: time.Now(),
	}
}

// Start launches the calculation loop, the sync loops, the cache cleanup
// pass, and the retention sweeper. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.engine.Run(runCtx)
	go s.cache.RunCleanup(runCtx, 30*time.Second)
	go s.store.RunSweeper(runCtx, time.Hour)
	if s.ring != nil {
		go s.runTickPump(runCtx, tickFlushEvery)
	}
	if s.orch != nil {
		s.orch.Start(runCtx)
	}
}

// AttachTickSource hands the service the ring buffer the stream pushes into.
// Must be called before Start.
func (s *Service) AttachTickSource(ring *ringbuf.Ring) {
	s.ring = ring
}

func (s *Service) runTickPump(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pumpTicks(ctx)
		}
	}
}

// pumpTicks drains the ring into the rolling windows, flushes the batch to
// the durable tier, and recomputes indicators for every symbol that traded.
func (s *Service) pumpTicks(ctx context.Context) {
	batch := make([]model.Tick, 0, 1024)
	touched := make(map[string]struct{})
	for {
		t, ok := s.ring.Pop()
		if !ok {
			break
		}
		s.windows.AddTick(t)
		touched[t.Symbol] = struct{}{}
		batch = append(batch, t)
	}
	if len(batch) == 0 {
		return
	}

	if err := s.store.PutTicks(ctx, batch); err != nil {
		log.Printf("[service] tick batch write: %v", err)
	}
	for sym := range touched {
		s.engine.CalculateSymbol(ctx, sym)
	}
	if s.OnTicksFlushed != nil {
		s.OnTicksFlushed(len(batch), batch[len(batch)-1].TS)
	}
}

// Stop cancels all background loops. Idempotent, fire-and-forget.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.orch != nil {
		s.orch.Stop()
	}
}

// CurrentQuote returns the freshest quote for symbol, or nil when none is
// available.
func (s *Service) CurrentQuote(ctx context.Context, symbol string) *model.Quote {
	if v, ok := s.cache.Get(cache.QuoteKey(symbol)); ok {
		return v.(*model.Quote)
	}
	q, err := s.store.GetQuote(ctx, symbol, 0)
	if err != nil {
		log.Printf("[service] quote read for %s: %v", symbol, err)
		return nil
	}
	if q != nil {
		s.cache.Set(cache.QuoteKey(symbol), q, cache.TTLQuote)
	}
	return q
}

// CurrentQuotes returns quotes for the given symbols, keyed by symbol.
// Cache misses are resolved with a single store round trip.
func (s *Service) CurrentQuotes(ctx context.Context, symbols []string) map[string]*model.Quote {
	keys := make([]string, len(symbols))
	keyToSym := make(map[string]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = cache.QuoteKey(sym)
		keyToSym[keys[i]] = sym
	}

	found, err := s.cache.GetManyFetch(keys, cache.TTLQuote, func(missing []string) (map[string]interface{}, error) {
		missSyms := make([]string, len(missing))
		for i, k := range missing {
			missSyms[i] = keyToSym[k]
		}
		quotes, err := s.store.GetQuotes(ctx, missSyms, 0)
		if err != nil {
			return nil, err
		}
		out := make(map[string]interface{}, len(quotes))
		for sym, q := range quotes {
			out[cache.QuoteKey(sym)] = q
		}
		return out, nil
	})
	if err != nil {
		log.Printf("[service] batch quote read: %v", err)
	}

	result := make(map[string]*model.Quote, len(found))
	for k, v := range found {
		result[keyToSym[k]] = v.(*model.Quote)
	}
	return result
}

// Indicators returns the current snapshot for symbol: the engine's live
// snapshot when present, otherwise the cached/stored one.
func (s *Service) Indicators(ctx context.Context, symbol string) *model.IndicatorSnapshot {
	if snap, ok := s.engine.Snapshot(symbol); ok {
		return snap
	}
	if v, ok := s.cache.Get(cache.IndicatorKey(symbol)); ok {
		return v.(*model.IndicatorSnapshot)
	}
	snap, err := s.store.GetIndicatorSnapshot(ctx, symbol, 0)
	if err != nil {
		log.Printf("[service] indicator read for %s: %v", symbol, err)
		return nil
	}
	if snap != nil {
		s.cache.Set(cache.IndicatorKey(symbol), snap, cache.TTLIndicators)
	}
	return snap
}

// StrategyResults returns the latest result for (symbol, name), or nil.
func (s *Service) StrategyResults(ctx context.Context, symbol, name string) *model.StrategyResult {
	key := cache.StrategyKey(name, symbol)
	if v, ok := s.cache.Get(key); ok {
		return v.(*model.StrategyResult)
	}
	r, err := s.store.GetLatestStrategy(ctx, symbol, name, 0)
	if err != nil {
		log.Printf("[service] strategy read for %s/%s: %v", symbol, name, err)
		return nil
	}
	if r != nil {
		s.cache.Set(key, r, cache.TTLStrategy)
	}
	return r
}

// Comprehensive returns the composite quote + indicators + strategies view.
func (s *Service) Comprehensive(ctx context.Context, symbol string) *Comprehensive {
	if v, ok := s.cache.Get(cache.ComprehensiveKey(symbol)); ok {
		return v.(*Comprehensive)
	}

	comp := &Comprehensive{
		Symbol:     symbol,
		Quote:      s.CurrentQuote(ctx, symbol),
		Indicators: s.Indicators(ctx, symbol),
		Strategies: make(map[string]*model.StrategyResult),
	}
	if comp.Quote != nil {
		comp.ChangePct = comp.Quote.ChangePercent()
	}
	for _, name := range []string{model.StrategyRVol, model.StrategyORB, model.StrategyVRS} {
		if r := s.StrategyResults(ctx, symbol, name); r != nil {
			comp.Strategies[name] = r
		}
	}

	s.cache.Set(cache.ComprehensiveKey(symbol), comp, cache.TTLStrategy)
	return comp
}

// Subscribe registers a live indicator callback for symbol.
func (s *Service) Subscribe(symbol string, h indicator.Handler) indicator.Subscription {
	return s.engine.Subscribe(symbol, h)
}

// Unsubscribe removes a subscription. Safe to call twice.
func (s *Service) Unsubscribe(sub indicator.Subscription) {
	s.engine.Unsubscribe(sub)
}

// RefreshSymbols forces a full upstream refresh for the given symbols and
// invalidates their cache entries. Errors surface to the caller.
func (s *Service) RefreshSymbols(ctx context.Context, symbols []string) error {
	if s.orch == nil {
		return fmt.Errorf("service: no sync orchestrator configured")
	}
	return s.orch.RefreshSymbols(ctx, symbols)
}

// ResetAllData destructively wipes the local store, the in-memory windows,
// and the query cache. The next sync cycle rebuilds from the provider.
// Operator-invoked only.
func (s *Service) ResetAllData(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	s.windows.Reset()
	s.cache.InvalidateAll()
	log.Printf("[service] all local data reset")
	return nil
}

// Stats returns the operational counters.
func (s *Service) Stats() PerformanceStats {
	hits, misses, size := s.cache.Stats()

	buffered := 0
	for _, sym := range s.symbols {
		buffered += s.windows.TickCount(sym)
	}

	st := PerformanceStats{
		CacheHits:      hits,
		CacheMisses:    misses,
		CacheSize:      size,
		TrackedSymbols: len(s.symbols),
		BufferedTicks:  buffered,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		StreamState:    "disabled",
	}
	if s.orch != nil {
		st.CallsInWindow = s.orch.Limiter().InWindow()
		st.StreamState = s.orch.ConnState().String()
	}
	return st
}

// RestoreSnapshots seeds the engine with the last persisted snapshot per
// symbol so indicators survive a restart until fresh data arrives.
func (s *Service) RestoreSnapshots(ctx context.Context) {
	restored := 0
	for _, sym := range s.symbols {
		snap, err := s.store.GetIndicatorSnapshot(ctx, sym, 0)
		if err != nil || snap == nil {
			continue
		}
		s.engine.RestoreSnapshot(snap)
		restored++
	}
	if restored > 0 {
		log.Printf("[service] restored %d indicator snapshots", restored)
	}
}

// SeedIndicatorInputs derives ADR percentages from stored daily candles and
// opening-range volume history from stored five-minute bars, then hands both
// to the engine. Called at startup and after daily-candle refreshes.
func (s *Service) SeedIndicatorInputs(ctx context.Context) {
	now := time.Now()
	for _, sym := range s.symbols {
		candles, err := s.store.GetDailyCandles(ctx, sym, now.AddDate(0, 0, -40), now)
		if err != nil {
			log.Printf("[service] seed candles for %s: %v", sym, err)
		} else if len(candles) > 0 {
			if adr := indicator.ADRPercent(candles, 20); adr > 0 {
				s.engine.SetADR(sym, adr)
			}
		}

		bars, err := s.store.GetFiveMinuteBars(ctx, sym, now.AddDate(0, 0, -20), now)
		if err != nil {
			log.Printf("[service] seed bars for %s: %v", sym, err)
			continue
		}
		var volumes []int64
		for _, b := range bars {
			if b.TS.Equal(s.cal.SessionOpen(b.TS)) {
				volumes = append(volumes, b.Volume)
			}
		}
		if len(volumes) > 0 {
			s.engine.SetORBHistory(sym, volumes)
		}
	}
}
