// Package store persists fetched bars and simulation results in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"picksim/internal/simulator"
	"picksim/pkg/model"
)

// Schema is applied on open
const Schema = `
CREATE TABLE IF NOT EXISTS bar_queries (
	query_key  TEXT PRIMARY KEY,
	location   TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bars (
	query_key TEXT NOT NULL REFERENCES bar_queries(query_key) ON DELETE CASCADE,
	ts        INTEGER NOT NULL,
	open      REAL NOT NULL,
	high      REAL NOT NULL,
	low       REAL NOT NULL,
	close     REAL NOT NULL,
	volume    INTEGER NOT NULL,
	PRIMARY KEY (query_key, ts)
);

CREATE TABLE IF NOT EXISTS results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	pick_date     TEXT NOT NULL,
	trigger_name  TEXT NOT NULL DEFAULT '',
	buy_price     REAL,
	buy_time      INTEGER,
	sell_price    REAL,
	sell_time     INTEGER,
	return_pct    REAL,
	day_seq       INTEGER,
	failure_kind  TEXT NOT NULL DEFAULT '',
	failure       TEXT NOT NULL DEFAULT '',
	recorded_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS results_run ON results(run_id);
`

// Store is a SQLite-backed bar cache and result journal
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// one writer; also keeps an in-memory database on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// GetBars returns the bars cached under key
func (s *Store) GetBars(ctx context.Context, key string) ([]model.Candle, bool, error) {
	var locName string
	err := s.db.QueryRowContext(ctx,
		`SELECT location FROM bar_queries WHERE query_key = ?`, key).Scan(&locName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("looking up %s: %w", key, err)
	}

	loc, err := time.LoadLocation(locName)
	if err != nil {
		loc = time.UTC
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, open, high, low, close, volume FROM bars WHERE query_key = ? ORDER BY ts`, key)
	if err != nil {
		return nil, false, fmt.Errorf("reading bars of %s: %w", key, err)
	}
	defer rows.Close()

	var bars []model.Candle
	for rows.Next() {
		var (
			ts int64
			c  model.Candle
		)
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, false, fmt.Errorf("scanning bar: %w", err)
		}
		c.Time = time.Unix(0, ts).In(loc)
		bars = append(bars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return bars, true, nil
}

// PutBars replaces the bars cached under key
func (s *Store) PutBars(ctx context.Context, key string, bars []model.Candle) (err error) {
	locName := time.UTC.String()
	if len(bars) > 0 {
		locName = bars[0].Time.Location().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM bar_queries WHERE query_key = ?`, key); err != nil {
		return fmt.Errorf("clearing %s: %w", key, err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO bar_queries (query_key, location, fetched_at) VALUES (?, ?, ?)`,
		key, locName, time.Now().Unix()); err != nil {
		return fmt.Errorf("inserting query %s: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO bars (query_key, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err = stmt.ExecContext(ctx, key, b.Time.UnixNano(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("inserting bar: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Entry is one journaled simulation
type Entry struct {
	RunID       string
	Symbol      string
	PickDate    string
	Trigger     string
	BuyPrice    float64
	BuyTime     time.Time
	SellPrice   float64
	SellTime    time.Time
	ReturnPct   float64
	DaySeq      int
	FailureKind string
	Failure     string
	RecordedAt  time.Time
}

// OK reports whether the journaled simulation succeeded
func (e Entry) OK() bool {
	return e.Failure == ""
}

// RecordResult journals res under runID
func (s *Store) RecordResult(ctx context.Context, runID string, res simulator.Result) error {
	var (
		trigger, kind, msg      string
		buy, sell, ret          sql.NullFloat64
		buyTime, sellTime, days sql.NullInt64
	)
	if res.OK() {
		o := res.Outcome
		trigger = string(o.Trigger)
		buy = sql.NullFloat64{Float64: o.BuyPrice, Valid: true}
		sell = sql.NullFloat64{Float64: o.SellPrice, Valid: true}
		ret = sql.NullFloat64{Float64: o.ReturnPct, Valid: true}
		buyTime = sql.NullInt64{Int64: o.BuyTime.UnixNano(), Valid: true}
		sellTime = sql.NullInt64{Int64: o.SellTime.UnixNano(), Valid: true}
		days = sql.NullInt64{Int64: int64(o.DaySeq), Valid: true}
	} else if res.Failure != nil {
		msg = res.Failure.Message
		if res.Failure.Kind != nil {
			kind = res.Failure.Kind.Error()
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results
		(run_id, symbol, pick_date, trigger_name, buy_price, buy_time, sell_price, sell_time,
		 return_pct, day_seq, failure_kind, failure, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.Symbol, res.PickDate.Format(model.DateLayout), trigger,
		buy, buyTime, sell, sellTime, ret, days, kind, msg, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", res.Symbol, err)
	}
	return nil
}

// ListResults returns the entries of a run in insertion order
func (s *Store) ListResults(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, symbol, pick_date, trigger_name, buy_price, buy_time, sell_price, sell_time,
		       return_pct, day_seq, failure_kind, failure, recorded_at
		FROM results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                       Entry
			buy, sell, ret          sql.NullFloat64
			buyTime, sellTime, days sql.NullInt64
			recorded                int64
		)
		if err := rows.Scan(&e.RunID, &e.Symbol, &e.PickDate, &e.Trigger,
			&buy, &buyTime, &sell, &sellTime, &ret, &days,
			&e.FailureKind, &e.Failure, &recorded); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		e.BuyPrice, e.SellPrice, e.ReturnPct = buy.Float64, sell.Float64, ret.Float64
		e.DaySeq = int(days.Int64)
		if buyTime.Valid {
			e.BuyTime = time.Unix(0, buyTime.Int64)
		}
		if sellTime.Valid {
			e.SellTime = time.Unix(0, sellTime.Int64)
		}
		e.RecordedAt = time.Unix(0, recorded)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs returns the distinct run IDs, most recent first
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM results GROUP BY run_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}
