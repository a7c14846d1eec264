// Package store ties the two tiers together: sqlite is the durable record,
// redis (optional) mirrors the latest values for external consumers. Reads
// come from sqlite with a caller-supplied freshness ceiling; writes fan out
// to both tiers, with hot-tier failures logged and swallowed.
package store

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tickerwatch/internal/model"
	"tickerwatch/internal/store/redis"
	"tickerwatch/internal/store/sqlite"
)

// Retention horizons per collection. A sweep deletes anything whose
// last_updated is older than now minus the horizon.
var defaultRetention = map[string]time.Duration{
	sqlite.ColTicks:      24 * time.Hour,
	sqlite.ColBars1m:     30 * 24 * time.Hour,
	sqlite.ColBars5m:     30 * 24 * time.Hour,
	sqlite.ColDaily:      250 * 24 * time.Hour,
	sqlite.ColQuotes:     30 * 24 * time.Hour,
	sqlite.ColIndicators: 30 * 24 * time.Hour,
	sqlite.ColStrategy:   7 * 24 * time.Hour,
	sqlite.ColSyncLog:    3 * 24 * time.Hour,
}

// Store is the tiered data lake facade.
type Store struct {
	sql       *sqlite.DB
	hot       *redis.BufferedWriter // nil when redis is not configured
	retention map[string]time.Duration
	now       func() time.Time

	// OnSwept is called with the row count after each non-empty sweep.
	OnSwept func(rows int64)
}

// New creates a Store over an open sqlite database. hot may be nil.
func New(db *sqlite.DB, hot *redis.BufferedWriter) *Store {
	ret := make(map[string]time.Duration, len(defaultRetention))
	for col, d := range defaultRetention {
		ret[col] = d
	}
	return &Store{
		sql:       db,
		hot:       hot,
		retention: ret,
		now:       time.Now,
	}
}

// SetRetention overrides the horizon for one collection.
func (s *Store) SetRetention(col string, d time.Duration) {
	s.retention[col] = d
}

// SetClock overrides the sweep clock, for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// ---- writes ----

func (s *Store) PutTicks(ctx context.Context, ticks []model.Tick) error {
	return s.sql.PutTicks(ctx, ticks)
}

func (s *Store) PutMinuteBars(ctx context.Context, bars []model.Bar) error {
	return s.sql.PutBars(ctx, sqlite.ColBars1m, bars)
}

func (s *Store) PutFiveMinuteBars(ctx context.Context, bars []model.Bar) error {
	return s.sql.PutBars(ctx, sqlite.ColBars5m, bars)
}

func (s *Store) PutDailyCandles(ctx context.Context, candles []model.DailyCandle) error {
	return s.sql.PutDailyCandles(ctx, candles)
}

func (s *Store) PutQuote(ctx context.Context, q *model.Quote) error {
	if err := s.sql.PutQuote(ctx, q); err != nil {
		return err
	}
	if s.hot != nil {
		if err := s.hot.WriteQuote(q); err != nil {
			log.Printf("[store] hot-tier quote write for %s: %v", q.Symbol, err)
		}
	}
	return nil
}

// PutIndicatorSnapshot persists a snapshot to both tiers.
func (s *Store) PutIndicatorSnapshot(ctx context.Context, snap *model.IndicatorSnapshot) error {
	if err := s.sql.PutIndicatorSnapshot(ctx, snap); err != nil {
		return err
	}
	if s.hot != nil {
		if err := s.hot.WriteSnapshot(snap); err != nil {
			log.Printf("[store] hot-tier snapshot write for %s: %v", snap.Symbol, err)
		}
	}
	return nil
}

// PutStrategyResult persists a strategy result to both tiers.
func (s *Store) PutStrategyResult(ctx context.Context, r *model.StrategyResult) error {
	if err := s.sql.PutStrategyResult(ctx, r); err != nil {
		return err
	}
	if s.hot != nil {
		if err := s.hot.WriteStrategy(r); err != nil {
			log.Printf("[store] hot-tier strategy write for %s/%s: %v", r.Symbol, r.Name, err)
		}
	}
	return nil
}

// LogSync records one sync action for a symbol.
func (s *Store) LogSync(ctx context.Context, symbol, action string, ok bool, detail string) {
	if err := s.sql.LogSync(ctx, symbol, action, ok, detail); err != nil {
		log.Printf("[store] sync log write: %v", err)
	}
}

// ---- reads ----

func (s *Store) GetMinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	return s.sql.GetBars(ctx, sqlite.ColBars1m, symbol, start, end)
}

func (s *Store) GetFiveMinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	return s.sql.GetBars(ctx, sqlite.ColBars5m, symbol, start, end)
}

func (s *Store) GetDailyCandles(ctx context.Context, symbol string, start, end time.Time) ([]model.DailyCandle, error) {
	return s.sql.GetDailyCandles(ctx, symbol, start, end)
}

// GetQuote returns the stored quote for symbol, or nil if it is absent or
// older than maxAge (maxAge <= 0 disables the freshness ceiling).
func (s *Store) GetQuote(ctx context.Context, symbol string, maxAge time.Duration) (*model.Quote, error) {
	q, err := s.sql.GetQuote(ctx, symbol)
	if err != nil || q == nil {
		return nil, err
	}
	if maxAge > 0 && s.now().Sub(q.LastUpdated) > maxAge {
		return nil, nil
	}
	return q, nil
}

// GetQuotes returns stored quotes for the given symbols in one query,
// keyed by symbol. Stale and absent symbols are simply missing from the map.
func (s *Store) GetQuotes(ctx context.Context, symbols []string, maxAge time.Duration) (map[string]*model.Quote, error) {
	if len(symbols) == 0 {
		return map[string]*model.Quote{}, nil
	}

	placeholders := strings.Repeat("?,", len(symbols))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}

	rows, err := s.sql.Handle().QueryContext(ctx, `
		SELECT symbol, price, previous_close, open, high, low, ts, last_updated
		FROM quotes WHERE symbol IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*model.Quote, len(symbols))
	cutoff := s.now().Add(-maxAge)
	for rows.Next() {
		var q model.Quote
		var ts, lu int64
		if err := rows.Scan(&q.Symbol, &q.Price, &q.PreviousClose, &q.Open, &q.High, &q.Low, &ts, &lu); err != nil {
			return nil, err
		}
		q.TS = time.UnixMilli(ts).UTC()
		q.LastUpdated = time.UnixMilli(lu).UTC()
		if maxAge > 0 && q.LastUpdated.Before(cutoff) {
			continue
		}
		out[q.Symbol] = &q
	}
	return out, rows.Err()
}

// GetIndicatorSnapshot returns the stored snapshot, or nil when absent or
// older than maxAge.
func (s *Store) GetIndicatorSnapshot(ctx context.Context, symbol string, maxAge time.Duration) (*model.IndicatorSnapshot, error) {
	snap, lu, err := s.sql.GetIndicatorSnapshot(ctx, symbol)
	if err != nil || snap == nil {
		return nil, err
	}
	if maxAge > 0 && s.now().Sub(lu) > maxAge {
		return nil, nil
	}
	return snap, nil
}

// GetLatestStrategy returns the most recent result for (symbol, name), or
// nil when absent or older than maxAge.
func (s *Store) GetLatestStrategy(ctx context.Context, symbol, name string, maxAge time.Duration) (*model.StrategyResult, error) {
	r, lu, err := s.sql.GetLatestStrategy(ctx, symbol, name)
	if err != nil || r == nil {
		return nil, err
	}
	if maxAge > 0 && s.now().Sub(lu) > maxAge {
		return nil, nil
	}
	return r, nil
}

// QuoteAge returns how stale the stored quote for symbol is, or a negative
// duration when no quote exists. The sync planner uses this to rank work.
func (s *Store) QuoteAge(ctx context.Context, symbol string) (time.Duration, error) {
	q, err := s.sql.GetQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if q == nil {
		return -1, nil
	}
	return s.now().Sub(q.LastUpdated), nil
}

// ---- retention and lifecycle ----

// SweepOnce applies every retention horizon, returning total rows deleted.
func (s *Store) SweepOnce(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	for col, horizon := range s.retention {
		n, err := s.sql.SweepCollection(ctx, col, now.Add(-horizon))
		if err != nil {
			return total, fmt.Errorf("sweep %s: %w", col, err)
		}
		total += n
	}
	return total, nil
}

// RunSweeper sweeps on the given interval until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				log.Printf("[store] retention sweep: %v", err)
			} else if n > 0 {
				log.Printf("[store] retention sweep deleted %d rows", n)
				if s.OnSwept != nil {
					s.OnSwept(n)
				}
			}
		}
	}
}

// Reset wipes every collection. Destructive; operator-invoked only.
func (s *Store) Reset(ctx context.Context) error {
	return s.sql.Reset(ctx)
}

// Close closes the durable tier. The hot tier's client is owned by whoever
// constructed it.
func (s *Store) Close() error {
	return s.sql.Close()
}
