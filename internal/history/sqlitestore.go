package history

import (
	"context"
	"database/sql"
	"fmt"

	"marketfeed/internal/candle"
	"marketfeed/internal/obslog"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Fetcher backed by a single-file sqlite database, using
// the pure-Go modernc.org/sqlite driver.
type SQLiteStore struct {
	db  *sql.DB
	log *obslog.Logger
}

// OpenSQLiteStore opens (and WAL-tunes) the sqlite database at path.
func OpenSQLiteStore(path string, log *obslog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		log.Warning("history: failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		log.Warning("history: failed to set synchronous mode: %v", err)
	}
	store := &SQLiteStore{db: db, log: log}
	for _, interval := range candle.AllIntervals {
		if err := store.EnsureTable(context.Background(), interval); err != nil {
			return nil, fmt.Errorf("ensure table for %s: %w", interval.Name, err)
		}
	}
	return store, nil
}

// EnsureTable creates the per-interval candle table if it does not exist.
func (s *SQLiteStore) EnsureTable(ctx context.Context, interval candle.Interval) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			time_ms INTEGER NOT NULL,
			open TEXT NOT NULL,
			high TEXT NOT NULL,
			low TEXT NOT NULL,
			close TEXT NOT NULL,
			volume TEXT NOT NULL,
			quote_volume TEXT,
			PRIMARY KEY (symbol, time_ms)
		);
	`, tableName(interval))
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Fetch returns the most recent limit candles for symbol/interval in
// ascending time order.
func (s *SQLiteStore) Fetch(ctx context.Context, symbol string, interval candle.Interval, limit int) ([]candle.Candle, error) {
	query := fmt.Sprintf(`
		SELECT time_ms, open, high, low, close, volume, quote_volume
		FROM %s
		WHERE symbol = ?
		ORDER BY time_ms DESC
		LIMIT ?
	`, tableName(interval))

	rows, err := s.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", symbol, interval.Name, err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var timeMS int64
		var open, high, low, closePx, volume string
		var quoteVolume sql.NullString
		if err := rows.Scan(&timeMS, &open, &high, &low, &closePx, &volume, &quoteVolume); err != nil {
			return nil, fmt.Errorf("scan %s/%s: %w", symbol, interval.Name, err)
		}
		var qvPtr *string
		if quoteVolume.Valid {
			qvPtr = &quoteVolume.String
		}
		c, err := rowToCandle(symbol, timeMS, open, high, low, closePx, volume, qvPtr)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", symbol, interval.Name, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(out)
	return out, nil
}

// Store upserts a single candle, used by the Ingest Adapter to persist bars
// as they arrive so restarts warm up from durable history.
func (s *SQLiteStore) Store(ctx context.Context, symbol string, interval candle.Interval, c candle.Candle) error {
	qv := sql.NullString{}
	if c.QuoteVolume != nil {
		qv = sql.NullString{String: c.QuoteVolume.String(), Valid: true}
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (symbol, time_ms, open, high, low, close, volume, quote_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, time_ms) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume, quote_volume=excluded.quote_volume
	`, tableName(interval))
	_, err := s.db.ExecContext(ctx, query, symbol, c.Time.UnixMilli(),
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(), qv)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func reverse(cs []candle.Candle) {
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
}
