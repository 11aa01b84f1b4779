// Package history implements the History Adapter: a single fetch operation
// against a durable time-series store, with a sqlite backend (one table per
// interval) and a postgres backend (a native pgx/v5 pool).
package history

import (
	"context"
	"time"

	"marketfeed/internal/candle"
)

// Fetcher retrieves and persists ordered candles in durable storage. Its
// Fetch method alone satisfies session.HistoryFetcher; its Store method
// satisfies ingest.PersistSink, letting the Ingest Adapter write bars
// through the same store the Session Manager reads from.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, interval candle.Interval, limit int) ([]candle.Candle, error)
	Store(ctx context.Context, symbol string, interval candle.Interval, c candle.Candle) error
	Close() error
}

// tableName returns the storage-layer table name for an interval.
func tableName(interval candle.Interval) string {
	return "candles_" + sanitizeIntervalName(interval.Name)
}

func sanitizeIntervalName(name string) string {
	out := make([]byte, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func rowToCandle(symbol string, timeMS int64, open, high, low, closePx, volume string, quoteVolume *string) (candle.Candle, error) {
	c := candle.Candle{Time: time.UnixMilli(timeMS).UTC()}
	var err error
	if c.Open, err = parseDecimal(open); err != nil {
		return candle.Candle{}, err
	}
	if c.High, err = parseDecimal(high); err != nil {
		return candle.Candle{}, err
	}
	if c.Low, err = parseDecimal(low); err != nil {
		return candle.Candle{}, err
	}
	if c.Close, err = parseDecimal(closePx); err != nil {
		return candle.Candle{}, err
	}
	if c.Volume, err = parseDecimal(volume); err != nil {
		return candle.Candle{}, err
	}
	if quoteVolume != nil {
		qv, err := parseDecimal(*quoteVolume)
		if err != nil {
			return candle.Candle{}, err
		}
		c.QuoteVolume = &qv
	}
	return c, nil
}
