// Package candle defines the OHLCV bar type and the arithmetic that turns a
// window of one-minute bars into a higher-timeframe candle.
package candle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an immutable OHLCV bar. Time marks the start of the bar, aligned
// to whatever timeframe the candle represents.
type Candle struct {
	Time        time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume *decimal.Decimal // absent iff nil
}

// Validate checks the invariants from the data model: finite non-negative
// values and low <= open,close <= high, low <= high.
func (c Candle) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close, "volume": c.Volume,
	} {
		if v.IsNegative() {
			return fmt.Errorf("candle %s is negative: %s", name, v)
		}
	}
	if c.QuoteVolume != nil && c.QuoteVolume.IsNegative() {
		return fmt.Errorf("candle quoteVolume is negative: %s", c.QuoteVolume)
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) || c.Low.GreaterThan(c.High) {
		return fmt.Errorf("candle low %s exceeds open/close/high", c.Low)
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return fmt.Errorf("candle high %s is below open/close", c.High)
	}
	return nil
}

// SameBar reports whether two candles share the same bar start time.
func (c Candle) SameBar(other Candle) bool {
	return c.Time.Equal(other.Time)
}

// wireCandle is the JSON wire shape sent to and received from clients.
type wireCandle struct {
	Time        wireTime         `json:"time"`
	Open        decimal.Decimal  `json:"open"`
	High        decimal.Decimal  `json:"high"`
	Low         decimal.Decimal  `json:"low"`
	Close       decimal.Decimal  `json:"close"`
	Volume      decimal.Decimal  `json:"volume"`
	QuoteVolume *decimal.Decimal `json:"quoteVolume,omitempty"`
}

// MarshalJSON emits time as ISO-8601 UTC, per the wire protocol.
func (c Candle) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCandle{
		Time:        wireTime(c.Time.UTC()),
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		QuoteVolume: c.QuoteVolume,
	})
}

// UnmarshalJSON accepts time as either ISO-8601 or epoch milliseconds, per
// the ingest contract in the external interfaces section.
func (c *Candle) UnmarshalJSON(data []byte) error {
	var w wireCandle
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Time = time.Time(w.Time)
	c.Open = w.Open
	c.High = w.High
	c.Low = w.Low
	c.Close = w.Close
	c.Volume = w.Volume
	c.QuoteVolume = w.QuoteVolume
	return nil
}

// wireTime marshals as ISO-8601 and unmarshals ISO-8601 or epoch-ms.
type wireTime time.Time

func (t wireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	var raw json.RawMessage = data
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("invalid ISO-8601 time %q: %w", s, err)
			}
		}
		*t = wireTime(parsed.UTC())
		return nil
	}

	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("time must be ISO-8601 string or epoch-ms number: %w", err)
	}
	*t = wireTime(time.UnixMilli(ms).UTC())
	return nil
}
