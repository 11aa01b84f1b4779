package candle

import (
	"fmt"
	"time"
)

// Interval represents a supported bar timeframe.
type Interval struct {
	Name     string
	MS       int64 // duration in milliseconds, used for bucket alignment
	Duration time.Duration
}

// Supported intervals, canonical spelling per the wire protocol.
var (
	Interval1m  = Interval{Name: "1m", MS: 60_000, Duration: time.Minute}
	Interval5m  = Interval{Name: "5m", MS: 300_000, Duration: 5 * time.Minute}
	Interval15m = Interval{Name: "15m", MS: 900_000, Duration: 15 * time.Minute}
	Interval1h  = Interval{Name: "1h", MS: 3_600_000, Duration: time.Hour}
	Interval4h  = Interval{Name: "4h", MS: 14_400_000, Duration: 4 * time.Hour}
	Interval1D  = Interval{Name: "1D", MS: 86_400_000, Duration: 24 * time.Hour}
	Interval1W  = Interval{Name: "1W", MS: 604_800_000, Duration: 7 * 24 * time.Hour}
)

// AllIntervals lists every supported interval in ascending duration order.
var AllIntervals = []Interval{
	Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1D, Interval1W,
}

var intervalRegistry = make(map[string]Interval, len(AllIntervals))

func init() {
	for _, iv := range AllIntervals {
		intervalRegistry[iv.Name] = iv
	}
}

// GetInterval looks up an interval by its canonical name.
func GetInterval(name string) (Interval, error) {
	iv, ok := intervalRegistry[name]
	if !ok {
		return Interval{}, fmt.Errorf("unsupported interval: %s", name)
	}
	return iv, nil
}

// ValidIntervalNames returns the canonical interval names in the order used
// by the "Valid: ..." protocol error message.
func ValidIntervalNames() []string {
	names := make([]string, len(AllIntervals))
	for i, iv := range AllIntervals {
		names[i] = iv.Name
	}
	return names
}

// BucketStart returns the start of the bucket containing t for this interval,
// as pure arithmetic on the UTC epoch millisecond: floor(t/MS) * MS. This
// applies uniformly across all seven intervals, including 1W, which anchors
// on the Unix epoch rather than any calendar week — intentional, not a bug.
func (i Interval) BucketStart(t time.Time) time.Time {
	ms := t.UTC().UnixMilli()
	bucketMS := (ms / i.MS) * i.MS
	if ms < 0 && ms%i.MS != 0 {
		bucketMS -= i.MS
	}
	return time.UnixMilli(bucketMS).UTC()
}

// SameBucket reports whether a and b fall in the same bucket for this interval.
func (i Interval) SameBucket(a, b time.Time) bool {
	return i.BucketStart(a).Equal(i.BucketStart(b))
}
