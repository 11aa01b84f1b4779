package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"marketfeed/internal/broadcaster"
	"marketfeed/internal/candle"
	"marketfeed/internal/obslog"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	outbound  [][]byte
	in        chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closeCh: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-f.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, msg, nil
	case <-f.closeCh:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closeCh:
		return io.ErrClosedPipe
	default:
	}
	if mt == websocket.TextMessage {
		f.mu.Lock()
		f.outbound = append(f.outbound, data)
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) WriteControl(mt int, data []byte, deadline time.Time) error {
	select {
	case <-f.closeCh:
		return io.ErrClosedPipe
	default:
	}
	return nil
}

func (f *fakeConn) SetReadLimit(int64)                      {}
func (f *fakeConn) SetReadDeadline(time.Time) error         { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error        { return nil }
func (f *fakeConn) SetPongHandler(h func(string) error)     {}
func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closeCh) })
	return nil
}

func (f *fakeConn) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.outbound))
	copy(out, f.outbound)
	return out
}

func (f *fakeConn) feed(msg string) { f.in <- []byte(msg) }

type fakeAgg struct {
	mu      sync.Mutex
	candles map[string]candle.Candle
	windows map[string]int
}

func newFakeAgg() *fakeAgg {
	return &fakeAgg{candles: make(map[string]candle.Candle), windows: make(map[string]int)}
}

func (f *fakeAgg) Current(symbol string, interval candle.Interval) (candle.Candle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candles[broadcaster.Subscription{Symbol: symbol, Interval: interval}.Key()]
	return c, ok
}

func (f *fakeAgg) WindowLength(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windows[symbol]
}

func (f *fakeAgg) Initialize(symbol string, bars []candle.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[symbol] = len(bars)
}

func (f *fakeAgg) setCurrent(sub broadcaster.Subscription, c candle.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[sub.Key()] = c
}

type fakeHistory struct {
	bars []candle.Candle
	err  error
}

func (f *fakeHistory) Fetch(ctx context.Context, symbol string, interval candle.Interval, limit int) ([]candle.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

func mkBar(closePrice string) candle.Candle {
	c := decimal.RequireFromString(closePrice)
	return candle.Candle{Time: time.Now().UTC(), Open: c, High: c, Low: c, Close: c, Volume: decimal.RequireFromString("1")}
}

func newTestManager(t *testing.T, agg *fakeAgg, history HistoryFetcher) (*Manager, *broadcaster.Broadcaster) {
	t.Helper()
	log := obslog.NewNop("test")
	b := broadcaster.New(agg, log)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(cancel)

	symbols := NewSymbolAllowList("BTC/USDT")
	mgr := NewManager(agg, b, history, symbols, log)
	return mgr, b
}

func decodeType(t *testing.T, raw []byte) string {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	typ, _ := m["type"].(string)
	return typ
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestSubscribeSendsInitialThenUpdate(t *testing.T) {
	agg := newFakeAgg()
	sub := broadcaster.Subscription{Symbol: "BTC/USDT", Interval: candle.Interval1m}
	agg.setCurrent(sub, mkBar("100"))
	history := &fakeHistory{bars: []candle.Candle{mkBar("99")}}

	mgr, b := newTestManager(t, agg, history)
	conn := newFakeConn()
	mgr.Accept(conn)

	conn.feed(`{"type":"subscribe","symbol":"BTC/USDT","interval":"1m"}`)

	waitFor(t, time.Second, func() bool {
		for _, m := range conn.sent() {
			if decodeType(t, m) == "initial" {
				return true
			}
		}
		return false
	})

	require.Equal(t, 1, b.Stats().TotalRooms)

	waitFor(t, 2*time.Second, func() bool {
		for _, m := range conn.sent() {
			if decodeType(t, m) == "update" {
				return true
			}
		}
		return false
	})
}

func TestSubscribeInvalidIntervalRepliesError(t *testing.T) {
	agg := newFakeAgg()
	mgr, _ := newTestManager(t, agg, &fakeHistory{})
	conn := newFakeConn()
	mgr.Accept(conn)

	conn.feed(`{"type":"subscribe","symbol":"BTC/USDT","interval":"3m"}`)

	waitFor(t, time.Second, func() bool {
		for _, m := range conn.sent() {
			if decodeType(t, m) == "error" {
				return true
			}
		}
		return false
	})
}

func TestMalformedFrameRepliesErrorAndKeepsSessionOpen(t *testing.T) {
	agg := newFakeAgg()
	mgr, _ := newTestManager(t, agg, &fakeHistory{})
	conn := newFakeConn()
	mgr.Accept(conn)

	conn.feed(`not json`)

	waitFor(t, time.Second, func() bool {
		for _, m := range conn.sent() {
			if decodeType(t, m) == "error" {
				return true
			}
		}
		return false
	})
	assert.Equal(t, 1, mgr.SessionCount())
}

func TestDisconnectReleasesRoomMembership(t *testing.T) {
	agg := newFakeAgg()
	sub := broadcaster.Subscription{Symbol: "BTC/USDT", Interval: candle.Interval1m}
	agg.setCurrent(sub, mkBar("100"))
	history := &fakeHistory{bars: []candle.Candle{mkBar("99")}}

	mgr, b := newTestManager(t, agg, history)
	conn := newFakeConn()
	mgr.Accept(conn)
	conn.feed(`{"type":"subscribe","symbol":"BTC/USDT","interval":"1m"}`)

	waitFor(t, time.Second, func() bool { return b.Stats().TotalRooms == 1 })

	require.NoError(t, conn.Close())

	waitFor(t, time.Second, func() bool { return mgr.SessionCount() == 0 })
	waitFor(t, time.Second, func() bool { return b.Stats().TotalRooms == 0 })
}

func TestHeartbeatTerminatesUnresponsiveSession(t *testing.T) {
	agg := newFakeAgg()
	mgr, _ := newTestManager(t, agg, &fakeHistory{})
	conn := newFakeConn()
	mgr.Accept(conn)
	require.Equal(t, 1, mgr.SessionCount())

	mgr.sweep()
	assert.Equal(t, 1, mgr.SessionCount(), "first sweep only pings")

	mgr.sweep()
	assert.Equal(t, 0, mgr.SessionCount(), "second sweep terminates a session that never answered")
}

func TestPingKeepsSessionAliveAcrossSweeps(t *testing.T) {
	agg := newFakeAgg()
	mgr, _ := newTestManager(t, agg, &fakeHistory{})
	conn := newFakeConn()
	mgr.Accept(conn)

	mgr.sweep()
	conn.feed(`{"type":"ping"}`)
	waitFor(t, time.Second, func() bool {
		for _, m := range conn.sent() {
			if decodeType(t, m) == "pong" {
				return true
			}
		}
		return false
	})

	mgr.sweep()
	assert.Equal(t, 1, mgr.SessionCount(), "an application ping resets liveness")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	agg := newFakeAgg()
	mgr, b := newTestManager(t, agg, &fakeHistory{})
	conn := newFakeConn()
	mgr.Accept(conn)

	conn.feed(`{"type":"unsubscribe","symbol":"BTC/USDT","interval":"1m"}`)
	waitFor(t, 500*time.Millisecond, func() bool { return true })
	assert.Equal(t, 0, b.Stats().TotalRooms)
}
