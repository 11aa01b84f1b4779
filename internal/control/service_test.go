package control

import (
	"context"
	"testing"
	"time"

	"marketfeed/internal/broadcaster"
	"marketfeed/internal/candle"
	"marketfeed/internal/obslog"
	"marketfeed/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBcastView struct {
	stats broadcaster.Stats
}

func (f fakeBcastView) Stats() broadcaster.Stats { return f.stats }

type nopAgg struct{}

func (nopAgg) Current(string, candle.Interval) (candle.Candle, bool) { return candle.Candle{}, false }
func (nopAgg) WindowLength(string) int                                { return 0 }
func (nopAgg) Initialize(string, []candle.Candle)                     {}

func TestListRoomsMapsBroadcasterStats(t *testing.T) {
	now := time.Now()
	bview := fakeBcastView{stats: broadcaster.Stats{
		TotalRooms: 1,
		Rooms:      []broadcaster.RoomStat{{Key: "BTC/USDT:1m", ClientCount: 2, HasCandle: true, LastBroadcastAt: now}},
	}}
	log := obslog.NewNop("test")
	symbols := session.NewSymbolAllowList("BTC/USDT")
	b := broadcaster.New(nopAgg{}, log)
	mgr := session.NewManager(nopAgg{}, b, nil, symbols, log)
	svc := NewService(bview, mgr, symbols)

	resp, err := svc.ListRooms(context.Background(), &Empty{})
	require.NoError(t, err)
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "BTC/USDT:1m", resp.Rooms[0].Key)
	assert.Equal(t, 2, resp.Rooms[0].ClientCount)
	assert.Equal(t, now.UnixMilli(), resp.Rooms[0].LastBroadcastMS)
}

func TestAddAndRemoveSymbolMutatesAllowList(t *testing.T) {
	log := obslog.NewNop("test")
	symbols := session.NewSymbolAllowList("BTC/USDT")
	b := broadcaster.New(nopAgg{}, log)
	mgr := session.NewManager(nopAgg{}, b, nil, symbols, log)
	svc := NewService(fakeBcastView{}, mgr, symbols)

	_, err := svc.AddSymbol(context.Background(), &SymbolRequest{Symbol: "ETH/USDT"})
	require.NoError(t, err)
	assert.True(t, symbols.Contains("ETH/USDT"))

	_, err = svc.RemoveSymbol(context.Background(), &SymbolRequest{Symbol: "BTC/USDT"})
	require.NoError(t, err)
	assert.False(t, symbols.Contains("BTC/USDT"))
}

func TestHealthReportsSessionCount(t *testing.T) {
	log := obslog.NewNop("test")
	symbols := session.NewSymbolAllowList("BTC/USDT")
	b := broadcaster.New(nopAgg{}, log)
	mgr := session.NewManager(nopAgg{}, b, nil, symbols, log)
	svc := NewService(fakeBcastView{}, mgr, symbols)

	resp, err := svc.Health(context.Background(), &Empty{})
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, 0, resp.Connections)
}
