package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"brisk/internal/logger"
	"brisk/internal/market"

	_ "modernc.org/sqlite"
)

var ErrEmptyInstrument = errors.New("instrument cannot be empty")

// BarStore persists OHLCV bars in SQLite. Bars are append-only: a row keyed
// by (instrument, timestamp) is written once and never overwritten. The pool
// holds a single connection so every batch and every read is serialized; a
// reader never observes a half-committed batch.
type BarStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

var _ market.BarStore = (*BarStore)(nil)

// OpenBarStore opens or creates the database at path. With reset set, an
// existing database file is removed first so the session starts with an
// empty history.
func OpenBarStore(path string, reset bool) (*BarStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("bar store: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("bar store: create dir: %w", err)
		}
	}
	if reset {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("bar store: reset %s: %w", path+suffix, err)
			}
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("bar store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureBarSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bar store: schema: %w", err)
	}
	return &BarStore{db: db, path: path}, nil
}

func ensureBarSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			instrument TEXT    NOT NULL,
			timestamp  INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			PRIMARY KEY (instrument, timestamp)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bars_instrument_ts ON bars(instrument, timestamp DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the database file path.
func (s *BarStore) Path() string { return s.path }

// SizeBytes reports the size of the database file (0 if it cannot be read).
func (s *BarStore) SizeBytes() int64 {
	var total int64
	for _, suffix := range []string{"", "-wal"} {
		if st, err := os.Stat(s.path + suffix); err == nil {
			total += st.Size()
		}
	}
	return total
}

// Append writes bars for instrument in one transaction using insert-or-ignore
// semantics and returns how many new rows were stored. Invalid bars and bars
// belonging to another instrument are skipped.
func (s *BarStore) Append(ctx context.Context, instrument string, bars []market.Bar) (int, error) {
	instrument = market.NormalizeInstrument(instrument)
	if instrument == "" {
		return 0, ErrEmptyInstrument
	}
	if len(bars) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bar store: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO bars (instrument, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("bar store: prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	skipped := 0
	for _, b := range bars {
		b.Instrument = market.NormalizeInstrument(b.Instrument)
		if b.Instrument == "" {
			b.Instrument = instrument
		}
		if b.Instrument != instrument {
			skipped++
			continue
		}
		if err := b.Validate(); err != nil {
			skipped++
			continue
		}
		res, err := stmt.ExecContext(ctx, b.Instrument, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			if ctx.Err() != nil {
				_ = tx.Rollback()
				return 0, ctx.Err()
			}
			logger.Warnf("[store] insert %s@%d failed: %v", b.Instrument, b.Timestamp, err)
			skipped++
			continue
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bar store: commit: %w", err)
	}
	if skipped > 0 {
		logger.Debugf("[store] %s: skipped %d of %d bars", instrument, skipped, len(bars))
	}
	return inserted, nil
}

// RecentCloses returns the closes of the limit most recent bars ordered oldest to newest.
func (s *BarStore) RecentCloses(ctx context.Context, instrument string, limit int) ([]float64, error) {
	instrument = market.NormalizeInstrument(instrument)
	if instrument == "" {
		return nil, ErrEmptyInstrument
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT close FROM (
			SELECT timestamp, close FROM bars
			WHERE instrument = ?
			ORDER BY timestamp DESC
			LIMIT ?
		) ORDER BY timestamp ASC`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("bar store: recent closes %s: %w", instrument, err)
	}
	defer rows.Close()
	out := make([]float64, 0, limit)
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentBars returns the limit most recent bars ordered oldest to newest.
func (s *BarStore) RecentBars(ctx context.Context, instrument string, limit int) ([]market.Bar, error) {
	instrument = market.NormalizeInstrument(instrument)
	if instrument == "" {
		return nil, ErrEmptyInstrument
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume FROM (
			SELECT * FROM bars
			WHERE instrument = ?
			ORDER BY timestamp DESC
			LIMIT ?
		) ORDER BY timestamp ASC`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("bar store: recent bars %s: %w", instrument, err)
	}
	defer rows.Close()
	var out []market.Bar
	for rows.Next() {
		b := market.Bar{Instrument: instrument}
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// KnownInstruments lists every instrument with at least one stored bar.
func (s *BarStore) KnownInstruments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT instrument FROM bars ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("bar store: instruments: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Count returns the number of stored bars for instrument.
func (s *BarStore) Count(ctx context.Context, instrument string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bars WHERE instrument = ?`, market.NormalizeInstrument(instrument)).Scan(&n)
	return n, err
}

func (s *BarStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
