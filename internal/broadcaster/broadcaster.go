// Package broadcaster groups client sessions into rooms keyed by
// (symbol, interval), throttles dispatch to at most one update per second
// per room, and caches each room's current candle. A single goroutine owns
// all room state and is driven by a command channel rather than per-room
// locks, since per-room timers and locks scale poorly and cannot enforce a
// registry-wide throttle without extra coordination.
package broadcaster

import (
	"context"
	"time"

	"marketfeed/internal/candle"
	"marketfeed/internal/obslog"
)

// BroadcastPeriod is the throttle floor: no room emits more than once per
// this duration.
const BroadcastPeriod = time.Second

// Subscription identifies a room.
type Subscription struct {
	Symbol   string
	Interval candle.Interval
}

// Key returns the room registry key "symbol:interval".
func (s Subscription) Key() string {
	return s.Symbol + ":" + s.Interval.Name
}

// Client is anything the Broadcaster can address an update to. Sessions
// implement this; tests use fakes.
type Client interface {
	// ID uniquely identifies the client within a room's membership set.
	ID() string
	// Send delivers an update for the given subscription. Implementations
	// must be non-blocking: if the outbound queue is full, Send must return
	// false rather than block, so a slow client never stalls the dispatch
	// loop or other rooms.
	Send(sub Subscription, bar candle.Candle) bool
}

// AggregatorView is the read-only slice of the Aggregator the Broadcaster
// depends on, kept narrow so tests can supply a fake.
type AggregatorView interface {
	Current(symbol string, interval candle.Interval) (candle.Candle, bool)
}

type room struct {
	sub             Subscription
	clients         map[string]Client
	currentCandle   candle.Candle
	hasCandle       bool
	lastBroadcastAt time.Time
}

// RoomStat is a read-only snapshot of one room, returned by Stats.
type RoomStat struct {
	Key             string
	ClientCount     int
	HasCandle       bool
	LastBroadcastAt time.Time
}

// Stats is a read-only snapshot of the whole registry.
type Stats struct {
	TotalRooms   int
	TotalClients int
	Rooms        []RoomStat
}

type command func(*state)

// state is the registry mutated exclusively by the run loop goroutine.
type state struct {
	rooms map[string]*room
	agg   AggregatorView
	log   *obslog.Logger
}

// Broadcaster owns the room registry and the 1-second dispatch loop. All
// mutations flow through a single goroutine (state.rooms), avoiding
// per-room locking entirely.
type Broadcaster struct {
	agg AggregatorView
	log *obslog.Logger

	commands chan command
	stats    chan chan Stats

	nowFn func() time.Time
}

// New creates a Broadcaster reading candles from agg. Call Run in its own
// goroutine to start the dispatch loop.
func New(agg AggregatorView, log *obslog.Logger) *Broadcaster {
	return &Broadcaster{
		agg:      agg,
		log:      log,
		commands: make(chan command, 256),
		stats:    make(chan chan Stats),
		nowFn:    time.Now,
	}
}

// Run drives the command queue and the periodic dispatch tick until ctx is
// canceled. It must run in exactly one goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	st := &state{rooms: make(map[string]*room), agg: b.agg, log: b.log}
	ticker := time.NewTicker(BroadcastPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-b.commands:
			cmd(st)
		case reply := <-b.stats:
			reply <- snapshot(st)
		case <-ticker.C:
			dispatch(st, b.nowFn())
		}
	}
}

func (b *Broadcaster) exec(fn func(*state)) {
	done := make(chan struct{})
	b.commands <- func(st *state) {
		fn(st)
		close(done)
	}
	<-done
}

// Join creates the room if absent, adds the client, and returns once the
// client is a confirmed member, guaranteeing membership happens-before the
// next dispatch tick. Idempotent for repeated joins by the same client.
func (b *Broadcaster) Join(client Client, sub Subscription) {
	b.exec(func(st *state) {
		r, ok := st.rooms[sub.Key()]
		if !ok {
			r = &room{sub: sub, clients: make(map[string]Client)}
			st.rooms[sub.Key()] = r
		}
		r.clients[client.ID()] = client
	})
}

// Leave removes client from sub's room, deleting the room if it becomes
// empty. No-op if the client was not a member or the room does not exist.
func (b *Broadcaster) Leave(client Client, sub Subscription) {
	b.exec(func(st *state) {
		leaveRoom(st, client.ID(), sub.Key())
	})
}

// LeaveAll removes client from every room it belongs to, deleting any that
// become empty.
func (b *Broadcaster) LeaveAll(client Client) {
	b.exec(func(st *state) {
		for key := range st.rooms {
			leaveRoom(st, client.ID(), key)
		}
	})
}

func leaveRoom(st *state, clientID, key string) {
	r, ok := st.rooms[key]
	if !ok {
		return
	}
	if _, member := r.clients[clientID]; !member {
		return
	}
	delete(r.clients, clientID)
	if len(r.clients) == 0 {
		delete(st.rooms, key)
	}
}

// Refresh queries the Aggregator for every room whose subscription symbol
// matches and, if a current candle is present, caches it as the room's
// currentCandle. Refresh always observes the effects of the immediately
// preceding Aggregator.Ingest for the same symbol because both flow through
// the same serialized ingest→refresh call sequence in the Ingest Adapter.
func (b *Broadcaster) Refresh(symbol string) {
	b.exec(func(st *state) {
		for _, r := range st.rooms {
			if r.sub.Symbol != symbol {
				continue
			}
			if bar, ok := st.agg.Current(r.sub.Symbol, r.sub.Interval); ok {
				r.currentCandle = bar
				r.hasCandle = true
			}
		}
	})
}

// Stats returns a snapshot of the registry. Callers should tolerate eventual
// consistency; the read is still funneled through the same executor to
// avoid a data race on the room map.
func (b *Broadcaster) Stats() Stats {
	reply := make(chan Stats, 1)
	b.stats <- reply
	return <-reply
}

func snapshot(st *state) Stats {
	out := Stats{Rooms: make([]RoomStat, 0, len(st.rooms))}
	for key, r := range st.rooms {
		out.TotalClients += len(r.clients)
		out.Rooms = append(out.Rooms, RoomStat{
			Key:             key,
			ClientCount:     len(r.clients),
			HasCandle:       r.hasCandle,
			LastBroadcastAt: r.lastBroadcastAt,
		})
	}
	out.TotalRooms = len(st.rooms)
	return out
}

// dispatch is one tick of the broadcast loop: every non-empty room with a
// cached candle whose throttle window has elapsed gets one update sent to
// every member. lastBroadcastAt advances even if individual sends fail.
func dispatch(st *state, now time.Time) {
	for _, r := range st.rooms {
		if len(r.clients) == 0 || !r.hasCandle {
			continue
		}
		if !r.lastBroadcastAt.IsZero() && now.Sub(r.lastBroadcastAt) < BroadcastPeriod {
			continue
		}

		failures := 0
		for _, c := range r.clients {
			if !c.Send(r.sub, r.currentCandle) {
				failures++
			}
		}
		if failures > 0 && st.log != nil {
			st.log.Warning("broadcaster: %d/%d sends failed for room %s", failures, len(r.clients), r.sub.Key())
		}
		r.lastBroadcastAt = now
	}
}
