package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketfeed/internal/broadcaster"
	"marketfeed/internal/candle"
	"marketfeed/internal/obslog"
	"marketfeed/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopAgg struct{}

func (nopAgg) Current(string, candle.Interval) (candle.Candle, bool) { return candle.Candle{}, false }
func (nopAgg) WindowLength(string) int                                { return 0 }
func (nopAgg) Initialize(string, []candle.Candle)                     {}

func TestHealthEndpointReportsConnectionCount(t *testing.T) {
	log := obslog.NewNop("test")
	b := broadcaster.New(nopAgg{}, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	mgr := session.NewManager(nopAgg{}, b, nil, session.NewSymbolAllowList("BTC/USDT"), log)
	srv := New(true, mgr, b, mgr, log)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"OK"`)
	assert.Contains(t, rec.Body.String(), `"sessions":0`)
}

func TestWSStatsEndpointReturnsBroadcasterSnapshot(t *testing.T) {
	log := obslog.NewNop("test")
	b := broadcaster.New(nopAgg{}, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	mgr := session.NewManager(nopAgg{}, b, nil, session.NewSymbolAllowList("BTC/USDT"), log)
	srv := New(true, mgr, b, mgr, log)

	req := httptest.NewRequest(http.MethodGet, "/health/ws-stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"TotalRooms":0`)
}
