// Package sync owns everything that talks to the upstream on a schedule:
// the streaming connection's reconnect lifecycle, the sliding-window call
// budget, and the per-symbol freshness refresh loop.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdsync "sync"
	"time"

	"tickerwatch/internal/model"
	"tickerwatch/internal/provider"
	"tickerwatch/internal/window"
)

// DataStore is the slice of the tiered store the orchestrator touches.
type DataStore interface {
	GetQuote(ctx context.Context, symbol string, maxAge time.Duration) (*model.Quote, error)
	GetDailyCandles(ctx context.Context, symbol string, start, end time.Time) ([]model.DailyCandle, error)
	GetIndicatorSnapshot(ctx context.Context, symbol string, maxAge time.Duration) (*model.IndicatorSnapshot, error)
	PutQuote(ctx context.Context, q *model.Quote) error
	PutDailyCandles(ctx context.Context, candles []model.DailyCandle) error
	PutMinuteBars(ctx context.Context, bars []model.Bar) error
	PutFiveMinuteBars(ctx context.Context, bars []model.Bar) error
	LogSync(ctx context.Context, symbol, action string, ok bool, detail string)
}

// BarSeeder restores in-memory window state from backfilled bars so the
// indicator engine computes from healed data, not just the durable tier.
type BarSeeder interface {
	SeedBars(symbol string, bars []model.Bar)
}

// Fetcher is the REST side of the upstream provider.
type Fetcher interface {
	GetQuotes(ctx context.Context, symbols []string) ([]model.Quote, error)
	GetDailyCandles(ctx context.Context, symbol string, from, to time.Time) ([]model.DailyCandle, error)
	GetMinuteBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error)
}

// TickStream is the live feed whose lifecycle the orchestrator drives.
type TickStream interface {
	Connect(ctx context.Context) error
	ReadLoop(ctx context.Context) error
	Close()
}

// Invalidator lets a forced refresh evict the query cache.
type Invalidator interface {
	Invalidate(symbol string)
}

// ErrBudgetExhausted is logged when the sliding window denies an action;
// the action is skipped, not failed.
var ErrBudgetExhausted = errors.New("sync: rate budget exhausted")

// Orchestrator runs the refresh loop and the stream reconnect loop.
type Orchestrator struct {
	store      DataStore
	fetcher    Fetcher
	stream     TickStream // nil disables the streaming loop
	cache      Invalidator
	limiter    *SlidingLimiter
	conn       *connTracker
	thresholds Thresholds

	symbols  []string
	interval time.Duration
	now      func() time.Time

	mu     stdsync.Mutex
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	// OnFailed fires once when the reconnect budget is exhausted.
	OnFailed func(err error)
	// OnConnState fires on every stream connection state transition.
	OnConnState func(from, to ConnState)
	// OnAction fires after every executed or budget-denied refresh action.
	OnAction func(action Action, ok bool)
	// Seeder, when set, receives backfilled minute bars so the in-memory
	// windows heal alongside the durable tier.
	Seeder BarSeeder
}

// Config bundles the orchestrator's knobs.
type Config struct {
	Symbols      []string
	SyncInterval time.Duration
	RateLimit    int
	RateWindow   time.Duration
	SafetyMargin float64
	Thresholds   Thresholds
	ConnPolicy   ConnPolicy
}

// New creates an orchestrator. stream and cache may be nil.
func New(store DataStore, fetcher Fetcher, stream TickStream, cache Invalidator, cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		fetcher:    fetcher,
		stream:     stream,
		cache:      cache,
		limiter:    NewSlidingLimiter(cfg.RateLimit, cfg.RateWindow, cfg.SafetyMargin),
		conn:       newConnTracker(cfg.ConnPolicy),
		thresholds: cfg.Thresholds,
		symbols:    cfg.Symbols,
		interval:   cfg.SyncInterval,
		now:        time.Now,
	}
	o.conn.OnStateChange = func(from, to ConnState) {
		if o.OnConnState != nil {
			o.OnConnState(from, to)
		}
	}
	return o
}

// SetClock overrides the clock, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.limiter.SetClock(now)
}

// ConnState returns the streaming connection state.
func (o *Orchestrator) ConnState() ConnState { return o.conn.State() }

// Limiter exposes the call budget for stats.
func (o *Orchestrator) Limiter() *SlidingLimiter { return o.limiter }

// Start launches the refresh loop and, when a stream is configured, the
// reconnect loop. Calling Start on a running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runSyncLoop(runCtx)
	}()

	if o.stream != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runStreamLoop(runCtx)
		}()
	}
}

// Stop cancels future scheduling. Idempotent; it does not wait for an
// in-flight cycle to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// RestartStream clears a terminal failed state and lets the reconnect loop
// try again on the next Start.
func (o *Orchestrator) RestartStream() { o.conn.Reset() }

func (o *Orchestrator) runSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.SyncCycle(ctx)
		}
	}
}

// SyncCycle plans and executes refresh work for every symbol. Failures are
// logged per action and never abort the rest of the cycle.
func (o *Orchestrator) SyncCycle(ctx context.Context) {
	for _, sym := range o.symbols {
		select {
		case <-ctx.Done():
			return
		default:
		}

		st := o.assess(ctx, sym)
		for _, action := range plan(st) {
			if err := o.runAction(ctx, sym, action); err != nil {
				log.Printf("[sync] %s %s: %v", sym, action, err)
			}
		}
	}
}

// assess reads stored freshness for one symbol.
func (o *Orchestrator) assess(ctx context.Context, sym string) staleness {
	var st staleness

	q, err := o.store.GetQuote(ctx, sym, o.thresholds.QuoteMaxAge)
	st.quoteStale = err == nil && q == nil
	if err != nil {
		log.Printf("[sync] %s quote freshness read: %v", sym, err)
	}

	now := o.now()
	candles, err := o.store.GetDailyCandles(ctx, sym, now.Add(-4*24*time.Hour), now)
	if err != nil {
		log.Printf("[sync] %s candle freshness read: %v", sym, err)
	} else {
		st.dailyStale = len(candles) == 0 ||
			now.Sub(candles[len(candles)-1].Date) > o.thresholds.DailyMaxAge
	}

	snap, err := o.store.GetIndicatorSnapshot(ctx, sym, o.thresholds.IndicatorMaxAge)
	st.indicatorStale = err == nil && snap == nil
	if err != nil {
		log.Printf("[sync] %s indicator freshness read: %v", sym, err)
	}

	return st
}

// runAction executes one refresh action under the rate budget.
func (o *Orchestrator) runAction(ctx context.Context, sym string, action Action) error {
	if !o.limiter.Allow() {
		o.store.LogSync(ctx, sym, string(action), false, ErrBudgetExhausted.Error())
		if o.OnAction != nil {
			o.OnAction(action, false)
		}
		return ErrBudgetExhausted
	}

	var err error
	switch action {
	case ActionQuote:
		err = o.refreshQuote(ctx, sym)
	case ActionDailyCandles:
		err = o.refreshDailyCandles(ctx, sym)
	case ActionIndicators:
		err = o.refreshMinuteBars(ctx, sym)
	default:
		err = fmt.Errorf("unknown action %q", action)
	}

	detail := ""
	if err != nil {
		detail = err.Error()
	}
	o.store.LogSync(ctx, sym, string(action), err == nil, detail)
	if o.OnAction != nil {
		o.OnAction(action, err == nil)
	}
	return err
}

func (o *Orchestrator) refreshQuote(ctx context.Context, sym string) error {
	quotes, err := o.fetcher.GetQuotes(ctx, []string{sym})
	if err != nil {
		return err
	}
	for i := range quotes {
		if err := o.store.PutQuote(ctx, &quotes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) refreshDailyCandles(ctx context.Context, sym string) error {
	now := o.now()
	candles, err := o.fetcher.GetDailyCandles(ctx, sym, now.AddDate(0, 0, -260), now)
	if err != nil {
		return err
	}
	return o.store.PutDailyCandles(ctx, candles)
}

// refreshMinuteBars backfills the recent intraday bars the indicator engine
// computes from, restoring indicator recency after a gap in the live feed.
// The bars land in three places: the durable minute collection, a resampled
// five-minute collection, and the in-memory windows the engine reads.
func (o *Orchestrator) refreshMinuteBars(ctx context.Context, sym string) error {
	now := o.now()
	bars, err := o.fetcher.GetMinuteBars(ctx, sym, now.Add(-30*time.Minute), now)
	if err != nil {
		return err
	}
	if err := o.store.PutMinuteBars(ctx, bars); err != nil {
		return err
	}
	if err := o.store.PutFiveMinuteBars(ctx, window.Resample(bars, 5*time.Minute)); err != nil {
		return err
	}
	if o.Seeder != nil {
		o.Seeder.SeedBars(sym, bars)
	}
	return nil
}

// RefreshSymbols forces all three actions for the given symbols, ignoring
// freshness, and invalidates their cache entries. Unlike the background
// loop, errors surface to the caller (joined across symbols and actions).
func (o *Orchestrator) RefreshSymbols(ctx context.Context, symbols []string) error {
	var errs []error
	for _, sym := range symbols {
		for _, action := range []Action{ActionQuote, ActionDailyCandles, ActionIndicators} {
			if err := o.runAction(ctx, sym, action); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", sym, action, err))
			}
		}
		if o.cache != nil {
			o.cache.Invalidate(sym)
		}
	}
	return errors.Join(errs...)
}

// runStreamLoop dials, pumps, and redials the live feed until the retry
// budget is exhausted or ctx is cancelled.
func (o *Orchestrator) runStreamLoop(ctx context.Context) {
	for {
		delay, ok := o.conn.BeginConnect()
		if !ok {
			err := fmt.Errorf("sync: reconnect attempts exhausted, stream in failed state")
			log.Printf("[sync] %v", err)
			if o.OnFailed != nil {
				o.OnFailed(err)
			}
			return
		}

		if delay > 0 {
			log.Printf("[sync] reconnecting stream in %s", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		err := o.stream.Connect(ctx)
		if err != nil {
			o.conn.Disconnected()
			if errors.Is(err, provider.ErrConnectionLimit) {
				o.conn.ConnLimited()
				log.Printf("[sync] connection limit hit, backing off %s", o.conn.policy.ConnLimitDelay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(o.conn.policy.ConnLimitDelay):
				}
			} else {
				log.Printf("[sync] stream connect: %v", err)
			}
			continue
		}

		o.conn.Connected()
		err = o.stream.ReadLoop(ctx)
		o.conn.Disconnected()

		if ctx.Err() != nil {
			o.stream.Close()
			return
		}
		log.Printf("[sync] stream dropped: %v", err)
	}
}
