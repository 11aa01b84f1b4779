package candle

import (
	"time"

	"github.com/shopspring/decimal"
)

func decimalZeroOr(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// Aggregate derives a higher-timeframe candle from the 1m candles that fall
// in a single bucket. bars must be sorted ascending by Time and non-empty.
// bucketStart is the aligned start of the target bucket, rebased onto the
// returned candle's Time regardless of what the contributing bars carry.
//
// Guarantees: open is the open of the earliest bar, close is the close of
// the latest, high/low are extrema across the bucket, volume/quoteVolume are
// sums. QuoteVolume is absent iff it is absent on every contributing bar.
func Aggregate(bars []Candle, bucketStart time.Time) Candle {
	out := Candle{
		Time:   bucketStart,
		Open:   bars[0].Open,
		High:   bars[0].High,
		Low:    bars[0].Low,
		Close:  bars[len(bars)-1].Close,
		Volume: bars[0].Volume,
	}
	haveQuote := bars[0].QuoteVolume != nil
	quote := decimalZeroOr(bars[0].QuoteVolume)

	for _, b := range bars[1:] {
		if b.High.GreaterThan(out.High) {
			out.High = b.High
		}
		if b.Low.LessThan(out.Low) {
			out.Low = b.Low
		}
		out.Volume = out.Volume.Add(b.Volume)
		if b.QuoteVolume != nil {
			haveQuote = true
		}
		quote = quote.Add(decimalZeroOr(b.QuoteVolume))
	}

	if haveQuote {
		out.QuoteVolume = &quote
	}
	return out
}
