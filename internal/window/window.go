// Package window maintains per-symbol rolling buffers of validated ticks and
// the minute bars derived from them. It is the only component that mutates
// live in-memory time series; everything else reads through it.
package window

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"tickerwatch/internal/model"
)

const (
	defaultTickRetention = 24 * time.Hour
	defaultBarRetention  = 4 * time.Hour

	// Ticks whose timestamp deviates from wall clock by more than this are
	// logged but still aggregated — delivery jitter must not lose data.
	skewWarnThreshold = 5 * time.Minute
)

// symbolState holds the live buffers for one symbol.
type symbolState struct {
	ticks []model.Tick         // ascending by arrival (per-symbol arrival order == time order)
	bars  map[int64]*model.Bar // minute bucket (unix sec) → bar
	order []int64              // sorted minute buckets, ascending
}

// Manager answers "most recent N minutes of bars/ticks" queries with bounded
// latency. Missing symbols degrade to empty results, never errors.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*symbolState

	tickRetention time.Duration
	barRetention  time.Duration

	now func() time.Time // injectable clock for tests

	// OnRejectedTick is called when a tick fails validation (optional).
	OnRejectedTick func()
}

// NewManager creates a window manager with default retention horizons.
func NewManager() *Manager {
	return &Manager{
		states:        make(map[string]*symbolState, 64),
		tickRetention: defaultTickRetention,
		barRetention:  defaultBarRetention,
		now:           time.Now,
	}
}

// SetClock overrides the wall clock. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// AddTick validates and aggregates a single tick. Invalid ticks are rejected
// silently (counted via OnRejectedTick); stale ticks are logged and kept.
func (m *Manager) AddTick(tick model.Tick) {
	if !tick.Valid() {
		if m.OnRejectedTick != nil {
			m.OnRejectedTick()
		}
		return
	}

	now := m.now().UTC()
	if skew := now.Sub(tick.TS); skew > skewWarnThreshold || skew < -skewWarnThreshold {
		log.Printf("[window] large timestamp skew for %s: tick=%v now=%v", tick.Symbol, tick.TS, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[tick.Symbol]
	if !ok {
		st = &symbolState{
			bars: make(map[int64]*model.Bar, 256),
		}
		m.states[tick.Symbol] = st
	}

	st.ticks = append(st.ticks, tick)

	bucket := tick.MinuteBucket().Unix()
	if bar, exists := st.bars[bucket]; exists {
		bar.Apply(tick)
	} else {
		st.bars[bucket] = model.NewBar(tick)
		st.insertBucket(bucket)
	}

	st.prune(now, m.tickRetention, m.barRetention)
}

// SeedBars merges backfilled minute bars into the symbol's live window.
// Buckets already built from live ticks win; only absent buckets are filled,
// so re-seeding after an overlap never clobbers fresher aggregates.
func (m *Manager) SeedBars(symbol string, bars []model.Bar) {
	if len(bars) == 0 {
		return
	}
	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[symbol]
	if !ok {
		st = &symbolState{
			bars: make(map[int64]*model.Bar, 256),
		}
		m.states[symbol] = st
	}

	for i := range bars {
		bucket := bars[i].TS.Truncate(time.Minute).Unix()
		if _, exists := st.bars[bucket]; exists {
			continue
		}
		b := bars[i]
		b.TS = time.Unix(bucket, 0).UTC()
		st.bars[bucket] = &b
		st.insertBucket(bucket)
	}

	st.prune(now, m.tickRetention, m.barRetention)
}

// insertBucket keeps st.order sorted. Buckets almost always arrive in order,
// so the common case is a plain append.
func (st *symbolState) insertBucket(bucket int64) {
	n := len(st.order)
	if n == 0 || st.order[n-1] < bucket {
		st.order = append(st.order, bucket)
		return
	}
	i := sort.Search(n, func(i int) bool { return st.order[i] >= bucket })
	st.order = append(st.order, 0)
	copy(st.order[i+1:], st.order[i:])
	st.order[i] = bucket
}

// prune drops ticks and bars past their retention horizons.
func (st *symbolState) prune(now time.Time, tickRet, barRet time.Duration) {
	tickCut := now.Add(-tickRet)
	i := 0
	for i < len(st.ticks) && st.ticks[i].TS.Before(tickCut) {
		i++
	}
	if i > 0 {
		st.ticks = append(st.ticks[:0:0], st.ticks[i:]...)
	}

	barCut := now.Add(-barRet).Unix()
	j := 0
	for j < len(st.order) && st.order[j] < barCut {
		delete(st.bars, st.order[j])
		j++
	}
	if j > 0 {
		st.order = append(st.order[:0:0], st.order[j:]...)
	}
}

// TicksInWindow returns ticks with timestamp >= now-window, ascending.
// Empty slice if the symbol is unknown.
func (m *Manager) TicksInWindow(symbol string, window time.Duration) []model.Tick {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[symbol]
	if !ok {
		return nil
	}

	cut := m.now().UTC().Add(-window)
	i := sort.Search(len(st.ticks), func(i int) bool {
		return !st.ticks[i].TS.Before(cut)
	})
	if i >= len(st.ticks) {
		return nil
	}
	out := make([]model.Tick, len(st.ticks)-i)
	copy(out, st.ticks[i:])
	return out
}

// BarsInWindow returns the most recent ceil(window/1m) bars in ascending
// order. The count-based window means sparse trading does not starve it.
// The still-open current-minute bar is included; results are copies so the
// caller never observes in-place mutation.
func (m *Manager) BarsInWindow(symbol string, window time.Duration) []model.Bar {
	n := int(math.Ceil(float64(window) / float64(time.Minute)))
	if n <= 0 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[symbol]
	if !ok {
		return nil
	}

	start := len(st.order) - n
	if start < 0 {
		start = 0
	}
	out := make([]model.Bar, 0, len(st.order)-start)
	for _, bucket := range st.order[start:] {
		out = append(out, *st.bars[bucket])
	}
	return out
}

// LatestPrice returns the last tick's price. ok is false if no ticks exist.
func (m *Manager) LatestPrice(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[symbol]
	if !ok || len(st.ticks) == 0 {
		return 0, false
	}
	return st.ticks[len(st.ticks)-1].Price, true
}

// PriceAtTime returns the price of the tick nearest to target in absolute
// time distance. No interpolation. ok is false if no ticks exist.
func (m *Manager) PriceAtTime(symbol string, target time.Time) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[symbol]
	if !ok || len(st.ticks) == 0 {
		return 0, false
	}

	i := sort.Search(len(st.ticks), func(i int) bool {
		return !st.ticks[i].TS.Before(target)
	})
	if i == 0 {
		return st.ticks[0].Price, true
	}
	if i == len(st.ticks) {
		return st.ticks[len(st.ticks)-1].Price, true
	}
	before := st.ticks[i-1]
	after := st.ticks[i]
	if target.Sub(before.TS) <= after.TS.Sub(target) {
		return before.Price, true
	}
	return after.Price, true
}

// Symbols returns all symbols with live state.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.states))
	for s := range m.states {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Reset drops all in-memory window state for every symbol.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*symbolState, 64)
}

// TickCount returns the number of buffered ticks for a symbol.
func (m *Manager) TickCount(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[symbol]
	if !ok {
		return 0
	}
	return len(st.ticks)
}
