package ingest

import (
	"testing"
	"time"

	"marketfeed/internal/candle"
	"marketfeed/internal/obslog"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNameRoundTrip(t *testing.T) {
	ch := channelFor("BTC/USDT")
	assert.Equal(t, "candles:BTC/USDT:1m", ch)

	symbol, ok := symbolFromChannel(ch)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", symbol)
}

func TestSymbolFromChannelRejectsUnrelatedChannels(t *testing.T) {
	_, ok := symbolFromChannel("some:other:channel")
	assert.False(t, ok)

	_, ok = symbolFromChannel("candles:BTC/USDT:5m")
	assert.False(t, ok)
}

type fakeAggSink struct {
	last   candle.Candle
	symbol string
	err    error
}

func (f *fakeAggSink) Ingest(symbol string, c candle.Candle) error {
	if f.err != nil {
		return f.err
	}
	f.symbol = symbol
	f.last = c
	return nil
}

type fakeBcastSink struct {
	refreshed []string
}

func (f *fakeBcastSink) Refresh(symbol string) { f.refreshed = append(f.refreshed, symbol) }

func TestHandleParsesIngestsAndRefreshes(t *testing.T) {
	agg := &fakeAggSink{}
	bcast := &fakeBcastSink{}
	a := &Adapter{agg: agg, bcast: bcast, log: obslog.NewNop("test")}

	payload := `{"time":"2024-01-01T00:00:00Z","open":"1","high":"2","low":"1","close":"2","volume":"5"}`
	a.handle(&redis.Message{Channel: "candles:BTC/USDT:1m", Payload: payload})

	assert.Equal(t, "BTC/USDT", agg.symbol)
	assert.True(t, agg.last.Close.Equal(decimal.RequireFromString("2")))
	assert.Equal(t, []string{"BTC/USDT"}, bcast.refreshed)
	assert.True(t, agg.last.Time.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestHandleDropsInvalidCandle(t *testing.T) {
	agg := &fakeAggSink{}
	bcast := &fakeBcastSink{}
	a := &Adapter{agg: agg, bcast: bcast, log: obslog.NewNop("test")}

	// low above high violates the OHLC invariant.
	payload := `{"time":"2024-01-01T00:00:00Z","open":"1","high":"1","low":"5","close":"1","volume":"1"}`
	a.handle(&redis.Message{Channel: "candles:BTC/USDT:1m", Payload: payload})

	assert.Empty(t, agg.symbol)
	assert.Empty(t, bcast.refreshed)
}

func TestHandleIgnoresUnrecognizedChannel(t *testing.T) {
	agg := &fakeAggSink{}
	bcast := &fakeBcastSink{}
	a := &Adapter{agg: agg, bcast: bcast, log: obslog.NewNop("test")}

	a.handle(&redis.Message{Channel: "unrelated", Payload: `{}`})
	assert.Empty(t, agg.symbol)
	assert.Empty(t, bcast.refreshed)
}
