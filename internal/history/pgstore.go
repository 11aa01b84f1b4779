package history

import (
	"context"
	"fmt"

	"marketfeed/internal/candle"
	"marketfeed/internal/obslog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Fetcher backed by a pgx/v5 connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *obslog.Logger
}

// OpenPostgresStore connects to dsn and returns a ready PostgresStore.
func OpenPostgresStore(ctx context.Context, dsn string, log *obslog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &PostgresStore{pool: pool, log: log}
	for _, interval := range candle.AllIntervals {
		if err := store.EnsureTable(ctx, interval); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure table for %s: %w", interval.Name, err)
		}
	}
	return store, nil
}

// EnsureTable creates the per-interval candle table if it does not exist.
func (s *PostgresStore) EnsureTable(ctx context.Context, interval candle.Interval) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			time_ms BIGINT NOT NULL,
			open NUMERIC NOT NULL,
			high NUMERIC NOT NULL,
			low NUMERIC NOT NULL,
			close NUMERIC NOT NULL,
			volume NUMERIC NOT NULL,
			quote_volume NUMERIC,
			PRIMARY KEY (symbol, time_ms)
		);
	`, tableName(interval))
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Fetch returns the most recent limit candles for symbol/interval in
// ascending time order.
func (s *PostgresStore) Fetch(ctx context.Context, symbol string, interval candle.Interval, limit int) ([]candle.Candle, error) {
	query := fmt.Sprintf(`
		SELECT time_ms, open::text, high::text, low::text, close::text, volume::text, quote_volume::text
		FROM %s
		WHERE symbol = $1
		ORDER BY time_ms DESC
		LIMIT $2
	`, tableName(interval))

	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", symbol, interval.Name, err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var timeMS int64
		var open, high, low, closePx, volume string
		var quoteVolume *string
		if err := rows.Scan(&timeMS, &open, &high, &low, &closePx, &volume, &quoteVolume); err != nil {
			return nil, fmt.Errorf("scan %s/%s: %w", symbol, interval.Name, err)
		}
		c, err := rowToCandle(symbol, timeMS, open, high, low, closePx, volume, quoteVolume)
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

// Store upserts a single candle.
func (s *PostgresStore) Store(ctx context.Context, symbol string, interval candle.Interval, c candle.Candle) error {
	var qv interface{}
	if c.QuoteVolume != nil {
		qv = c.QuoteVolume.String()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (symbol, time_ms, open, high, low, close, volume, quote_volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, time_ms) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume, quote_volume=excluded.quote_volume
	`, tableName(interval))
	_, err := s.pool.Exec(ctx, query, symbol, c.Time.UnixMilli(),
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(), qv)
	return err
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
