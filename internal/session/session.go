// Package session implements the per-connection lifecycle: WebSocket
// accept, message parse/dispatch, subscribe/unsubscribe, heartbeat and
// close handling, built on a Hub/Client split with per-room membership
// backed by the broadcaster package.
package session

import (
	"context"
	"sync"
	"time"

	"marketfeed/internal/broadcaster"
	"marketfeed/internal/candle"
	"marketfeed/internal/obslog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	heartbeatPeriod       = 30 * time.Second
	defaultHistoryTimeout = 10 * time.Second
	maxOneMinuteBars      = 1440
)

// AggregatorPort is the slice of the Aggregator the Session Manager needs:
// the current-candle view the Broadcaster reads (the Manager itself never
// calls Current) and checking/filling the 1m window for lazy warmup.
type AggregatorPort interface {
	broadcaster.AggregatorView
	WindowLength(symbol string) int
	Initialize(symbol string, bars []candle.Candle)
}

// HistoryFetcher retrieves ordered candles from durable storage.
type HistoryFetcher interface {
	Fetch(ctx context.Context, symbol string, interval candle.Interval, limit int) ([]candle.Candle, error)
}

// SymbolAllowList is the mutable set of symbols the service accepts
// subscriptions for. The control plane may grow or shrink it at runtime.
type SymbolAllowList struct {
	mu      sync.RWMutex
	symbols map[string]struct{}
}

// NewSymbolAllowList builds an allow-list seeded with the given symbols.
func NewSymbolAllowList(symbols ...string) *SymbolAllowList {
	s := &SymbolAllowList{symbols: make(map[string]struct{}, len(symbols))}
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}
	return s
}

// Contains reports whether symbol is currently accepted.
func (s *SymbolAllowList) Contains(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.symbols[symbol]
	return ok
}

// Add inserts symbol into the allow-list.
func (s *SymbolAllowList) Add(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[symbol] = struct{}{}
}

// Remove deletes symbol from the allow-list.
func (s *SymbolAllowList) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.symbols, symbol)
}

// List returns a snapshot of the accepted symbols.
func (s *SymbolAllowList) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// Manager owns the set of live sessions and drives their lifecycle. It sits
// between the WebSocket transport and the Broadcaster/History layers.
type Manager struct {
	agg     AggregatorPort
	bcast   *broadcaster.Broadcaster
	history HistoryFetcher
	symbols *SymbolAllowList
	log     *obslog.Logger

	historyTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*client
}

// NewManager builds a session Manager. history may be nil, in which case
// subscribe always reports the fetch failure, matching a deployment that
// never wired a time-series backend.
func NewManager(agg AggregatorPort, bcast *broadcaster.Broadcaster, history HistoryFetcher, symbols *SymbolAllowList, log *obslog.Logger) *Manager {
	return &Manager{
		agg:            agg,
		bcast:          bcast,
		history:        history,
		symbols:        symbols,
		log:            log,
		historyTimeout: defaultHistoryTimeout,
		sessions:       make(map[string]*client),
	}
}

// Accept registers a newly upgraded connection and starts its pumps. It
// returns the assigned session id.
func (m *Manager) Accept(conn wsConn) string {
	id := uuid.NewString()
	c := newClient(id, conn, m, m.log.With("session"))

	m.mu.Lock()
	m.sessions[id] = c
	m.mu.Unlock()

	go c.writePump()
	go c.readPump()
	return id
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	c, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.bcast.LeaveAll(c)
}

// handleMessage parses and dispatches one inbound frame from c.
func (m *Manager) handleMessage(c *client, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.sendRaw(newErrorMessage(err.Error()))
		return
	}

	switch {
	case msg.Subscribe != nil:
		m.subscribe(c, *msg.Subscribe)
	case msg.Unsubscribe != nil:
		m.unsubscribe(c, *msg.Unsubscribe)
	case msg.Ping:
		c.markAlive()
		c.sendRaw(newPongMessage())
	}
}

func (m *Manager) subscribe(c *client, req SubscribeRequest) {
	interval, err := candle.GetInterval(req.Interval)
	if err != nil {
		c.sendRaw(newErrorMessage(InvalidIntervalMessage(req.Interval)))
		return
	}
	if !m.symbols.Contains(req.Symbol) {
		c.sendRaw(newErrorMessage(InvalidSymbolMessage(req.Symbol, joinNames(m.symbols.List()))))
		return
	}

	sub := broadcaster.Subscription{Symbol: req.Symbol, Interval: interval}
	m.bcast.Join(c, sub)

	m.warmupIfEmpty(req.Symbol)

	ctx, cancel := context.WithTimeout(context.Background(), m.historyTimeout)
	defer cancel()

	bars, err := m.fetchHistory(ctx, req.Symbol, interval, req.InitialBars)
	if err != nil {
		if m.log != nil {
			m.log.Warning("session: history fetch failed for %s/%s: %v", req.Symbol, interval.Name, err)
		}
		c.sendRaw(newErrorMessage("Failed to subscribe to candles"))
		return
	}
	c.sendRaw(newInitialMessage(req.Symbol, interval.Name, bars))
	// Seed the room's cached candle now, after the initial reply is queued,
	// so the next tick can deliver an update without waiting for an ingest.
	m.bcast.Refresh(req.Symbol)
}

func (m *Manager) fetchHistory(ctx context.Context, symbol string, interval candle.Interval, limit int) ([]candle.Candle, error) {
	if m.history == nil {
		return nil, errNoHistoryBackend
	}
	return m.history.Fetch(ctx, symbol, interval, limit)
}

// warmupIfEmpty fills the Aggregator's 1m window for symbol when a
// subscription, at any interval including 1m, finds that window empty.
// Warmup failures are logged and otherwise ignored: the subscribe path
// still returns whatever the History Adapter can produce for the requested
// interval.
func (m *Manager) warmupIfEmpty(symbol string) {
	if m.history == nil || m.agg.WindowLength(symbol) > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.historyTimeout)
	defer cancel()
	bars, err := m.history.Fetch(ctx, symbol, candle.Interval1m, maxOneMinuteBars)
	if err != nil {
		if m.log != nil {
			m.log.Warning("session: warmup fetch failed for %s: %v", symbol, err)
		}
		return
	}
	m.agg.Initialize(symbol, bars)
}

func (m *Manager) unsubscribe(c *client, req UnsubscribeRequest) {
	interval, err := candle.GetInterval(req.Interval)
	if err != nil {
		return
	}
	m.bcast.Leave(c, broadcaster.Subscription{Symbol: req.Symbol, Interval: interval})
}

// RunHeartbeat walks every live session on each HEARTBEAT_PERIOD tick. A
// session whose liveness flag is still false from the previous tick is
// hard-closed and dropped; otherwise the flag is cleared and a Ping frame
// is sent.
func (m *Manager) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	clients := make([]*client, 0, len(m.sessions))
	for _, c := range m.sessions {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		if !c.alive.Load() {
			c.terminate()
			m.remove(c.id)
			continue
		}
		c.alive.Store(false)
		if !c.ping() {
			c.terminate()
			m.remove(c.id)
		}
	}
}

// Shutdown terminates every live session with a normal close and releases
// their room memberships. It does not wait for the underlying goroutines to
// exit; callers enforce their own deadline.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	clients := make([]*client, 0, len(m.sessions))
	for _, c := range m.sessions {
		clients = append(clients, c)
	}
	m.sessions = make(map[string]*client)
	m.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.terminate()
		m.bcast.LeaveAll(c)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

const errNoHistoryBackend = errString("no history backend configured")
