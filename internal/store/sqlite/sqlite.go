// Package sqlite is the durable tier of the data lake: one table per
// collection, keyed by the record's natural key, with a last_updated column
// every retention sweep and freshness read keys off.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"tickerwatch/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Collection names. These are the sweepable tables.
const (
	ColTicks      = "ticks"
	ColBars1m     = "bars_1m"
	ColBars5m     = "bars_5m"
	ColDaily      = "daily_candles"
	ColQuotes     = "quotes"
	ColIndicators = "indicators"
	ColStrategy   = "strategy_results"
	ColSyncLog    = "sync_log"
)

// DB wraps the sqlite handle with the schema the collections need.
type DB struct {
	db *sql.DB

	// OnCommit is called with the elapsed time of each batch commit.
	OnCommit func(d time.Duration)
}

// Open opens (or creates) the database with WAL mode and a single-writer
// connection pool, then installs the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &DB{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ticks (
			symbol       TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			price        REAL    NOT NULL,
			volume       INTEGER,
			size         INTEGER,
			venue        TEXT,
			conditions   TEXT,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS bars_1m (
			symbol       TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			open         REAL    NOT NULL,
			high         REAL    NOT NULL,
			low          REAL    NOT NULL,
			close        REAL    NOT NULL,
			volume       INTEGER,
			trade_count  INTEGER,
			vwap         REAL,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS bars_5m (
			symbol       TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			open         REAL    NOT NULL,
			high         REAL    NOT NULL,
			low          REAL    NOT NULL,
			close        REAL    NOT NULL,
			volume       INTEGER,
			trade_count  INTEGER,
			vwap         REAL,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS daily_candles (
			symbol       TEXT    NOT NULL,
			date         INTEGER NOT NULL,
			open         REAL    NOT NULL,
			high         REAL    NOT NULL,
			low          REAL    NOT NULL,
			close        REAL    NOT NULL,
			volume       INTEGER,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (symbol, date)
		);

		CREATE TABLE IF NOT EXISTS quotes (
			symbol         TEXT PRIMARY KEY,
			price          REAL NOT NULL,
			previous_close REAL,
			open           REAL,
			high           REAL,
			low            REAL,
			ts             INTEGER NOT NULL,
			last_updated   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS indicators (
			symbol       TEXT    NOT NULL,
			kind         TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			data         TEXT    NOT NULL,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (symbol, kind)
		);

		CREATE TABLE IF NOT EXISTS strategy_results (
			symbol       TEXT    NOT NULL,
			name         TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			data         TEXT    NOT NULL,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (symbol, name, ts)
		);

		CREATE TABLE IF NOT EXISTS sync_log (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol       TEXT    NOT NULL,
			action       TEXT    NOT NULL,
			ok           INTEGER NOT NULL,
			detail       TEXT,
			last_updated INTEGER NOT NULL
		);
	`)
	return err
}

// Handle returns the underlying sql.DB for health checks.
func (d *DB) Handle() *sql.DB { return d.db }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// ---- writes (upsert by natural key) ----

// PutTicks inserts a batch of ticks in a single transaction.
// commit finishes a batch transaction and reports its total latency.
func (d *DB) commit(tx *sql.Tx, start time.Time) error {
	err := tx.Commit()
	if d.OnCommit != nil {
		d.OnCommit(time.Since(start))
	}
	return err
}

func (d *DB) PutTicks(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO ticks (symbol, ts, price, volume, size, venue, conditions, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, t := range ticks {
		conds := strings.Join(t.Conditions, ",")
		if _, err := stmt.Exec(t.Symbol, t.TS.UnixMilli(), t.Price, t.Volume, t.Size, t.Venue, conds, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return d.commit(tx, start)
}

// PutBars upserts minute or five-minute bars into the named collection.
func (d *DB) PutBars(ctx context.Context, col string, bars []model.Bar) error {
	if col != ColBars1m && col != ColBars5m {
		return fmt.Errorf("sqlite: %q is not a bar collection", col)
	}
	if len(bars) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO ` + col + ` (symbol, ts, open, high, low, close, volume, trade_count, vwap, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, b := range bars {
		if _, err := stmt.Exec(b.Symbol, b.TS.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return d.commit(tx, start)
}

// PutDailyCandles upserts daily candles.
func (d *DB) PutDailyCandles(ctx context.Context, candles []model.DailyCandle) error {
	if len(candles) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_candles (symbol, date, open, high, low, close, volume, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, c := range candles {
		if _, err := stmt.Exec(c.Symbol, c.Date.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return d.commit(tx, start)
}

// PutQuote upserts the latest quote for a symbol.
func (d *DB) PutQuote(ctx context.Context, q *model.Quote) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO quotes (symbol, price, previous_close, open, high, low, ts, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, q.Symbol, q.Price, q.PreviousClose, q.Open, q.High, q.Low, q.TS.UnixMilli(), time.Now().UnixMilli())
	return err
}

// PutIndicatorSnapshot upserts the latest snapshot for a symbol.
func (d *DB) PutIndicatorSnapshot(ctx context.Context, snap *model.IndicatorSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO indicators (symbol, kind, ts, data, last_updated)
		VALUES (?, 'snapshot', ?, ?, ?)
	`, snap.Symbol, snap.TS.UnixMilli(), string(data), time.Now().UnixMilli())
	return err
}

// PutStrategyResult upserts one strategy result by (symbol, name, ts).
func (d *DB) PutStrategyResult(ctx context.Context, r *model.StrategyResult) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO strategy_results (symbol, name, ts, data, last_updated)
		VALUES (?, ?, ?, ?, ?)
	`, r.Symbol, r.Name, r.TS.UnixMilli(), string(r.Data), time.Now().UnixMilli())
	return err
}

// LogSync appends one sync-action record (per-symbol refresh bookkeeping).
func (d *DB) LogSync(ctx context.Context, symbol, action string, ok bool, detail string) error {
	okInt := 0
	if ok {
		okInt = 1
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_log (symbol, action, ok, detail, last_updated)
		VALUES (?, ?, ?, ?, ?)
	`, symbol, action, okInt, detail, time.Now().UnixMilli())
	return err
}

// ---- reads ----

// GetBars returns bars for symbol in [start, end], ascending by timestamp.
func (d *DB) GetBars(ctx context.Context, col, symbol string, start, end time.Time) ([]model.Bar, error) {
	if col != ColBars1m && col != ColBars5m {
		return nil, fmt.Errorf("sqlite: %q is not a bar collection", col)
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT symbol, ts, open, high, low, close, volume, trade_count, vwap
		FROM `+col+`
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		var b model.Bar
		var ts int64
		if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, err
		}
		b.TS = time.UnixMilli(ts).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetDailyCandles returns daily candles in [start, end], ascending by date.
func (d *DB) GetDailyCandles(ctx context.Context, symbol string, start, end time.Time) ([]model.DailyCandle, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT symbol, date, open, high, low, close, volume
		FROM daily_candles
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DailyCandle
	for rows.Next() {
		var c model.DailyCandle
		var date int64
		if err := rows.Scan(&c.Symbol, &date, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Date = time.UnixMilli(date).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetQuote returns the stored quote for a symbol, or nil if absent.
func (d *DB) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT symbol, price, previous_close, open, high, low, ts, last_updated
		FROM quotes WHERE symbol = ?
	`, symbol)

	var q model.Quote
	var ts, lu int64
	err := row.Scan(&q.Symbol, &q.Price, &q.PreviousClose, &q.Open, &q.High, &q.Low, &ts, &lu)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.TS = time.UnixMilli(ts).UTC()
	q.LastUpdated = time.UnixMilli(lu).UTC()
	return &q, nil
}

// GetIndicatorSnapshot returns the stored snapshot for a symbol (kind
// "snapshot"), its last_updated stamp, or nil if absent.
func (d *DB) GetIndicatorSnapshot(ctx context.Context, symbol string) (*model.IndicatorSnapshot, time.Time, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT data, last_updated FROM indicators
		WHERE symbol = ? AND kind = 'snapshot'
	`, symbol)

	var data string
	var lu int64
	err := row.Scan(&data, &lu)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	var snap model.IndicatorSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, time.UnixMilli(lu).UTC(), nil
}

// GetLatestStrategy returns the most recent result for (symbol, name), its
// last_updated stamp, or nil if absent.
func (d *DB) GetLatestStrategy(ctx context.Context, symbol, name string) (*model.StrategyResult, time.Time, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT symbol, name, ts, data, last_updated
		FROM strategy_results
		WHERE symbol = ? AND name = ?
		ORDER BY ts DESC LIMIT 1
	`, symbol, name)

	var r model.StrategyResult
	var ts, lu int64
	var data string
	err := row.Scan(&r.Symbol, &r.Name, &ts, &data, &lu)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	r.TS = time.UnixMilli(ts).UTC()
	r.LastUpdated = time.UnixMilli(lu).UTC()
	r.Data = json.RawMessage(data)
	return &r, r.LastUpdated, nil
}

// ---- retention ----

// SweepCollection deletes records whose last_updated is older than cutoff.
// A single DELETE statement per collection keeps the sweep atomic with
// respect to concurrent readers (no partially deleted composite records).
func (d *DB) SweepCollection(ctx context.Context, col string, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM `+col+` WHERE last_updated < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Reset drops and recreates every collection. Destructive; operator-invoked
// only, never called automatically.
func (d *DB) Reset(ctx context.Context) error {
	cols := []string{ColTicks, ColBars1m, ColBars5m, ColDaily, ColQuotes, ColIndicators, ColStrategy, ColSyncLog}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, col := range cols {
		if _, err := tx.Exec(`DROP TABLE IF EXISTS ` + col); err != nil {
			tx.Rollback()
			return fmt.Errorf("drop %s: %w", col, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return createSchema(d.db)
}
