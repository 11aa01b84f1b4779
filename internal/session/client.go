package session

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"marketfeed/internal/broadcaster"
	"marketfeed/internal/candle"
	"marketfeed/internal/obslog"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// wsConn is the slice of *websocket.Conn a client needs, kept narrow so
// tests can supply a fake transport.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// client is one WebSocket connection. It implements broadcaster.Client and
// runs its own read/write pumps, mirroring a classic hub-and-client split:
// writePump owns the socket for writing, readPump owns it for reading, and
// the two never touch the connection from the other's goroutine.
type client struct {
	id   string
	conn wsConn
	log  *obslog.Logger
	mgr  *Manager

	send chan []byte
	done chan struct{}
	once sync.Once

	alive atomic.Bool
}

func newClient(id string, conn wsConn, mgr *Manager, log *obslog.Logger) *client {
	c := &client{
		id:   id,
		conn: conn,
		mgr:  mgr,
		log:  log,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// ID implements broadcaster.Client.
func (c *client) ID() string { return c.id }

// Send implements broadcaster.Client. It never blocks: a full queue means
// the client is slow and this dispatch pass counts it as a failure.
func (c *client) Send(sub broadcaster.Subscription, bar candle.Candle) bool {
	payload, err := json.Marshal(newUpdateMessage(sub.Symbol, sub.Interval.Name, bar))
	if err != nil {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) sendRaw(v interface{}) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// markAlive is invoked on any Pong frame or application-level ping, and
// clears the heartbeat's suspicion that the connection is dead.
func (c *client) markAlive() { c.alive.Store(true) }

// readPump owns the connection for reading. It exits (and triggers cleanup)
// on any transport error, including a normal close from the peer.
func (c *client) readPump() {
	defer func() {
		c.mgr.remove(c.id)
		c.terminate()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * heartbeatPeriod))
	c.conn.SetPongHandler(func(string) error {
		c.markAlive()
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * heartbeatPeriod))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.mgr.handleMessage(c, data)
	}
}

// writePump owns the connection for writing. It multiplexes queued outbound
// frames and heartbeat pings onto the socket.
func (c *client) writePump() {
	defer c.terminate()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ping sends a Ping control frame. WriteControl is the one write method
// gorilla/websocket allows to be called concurrently with writePump's
// WriteMessage/SetWriteDeadline calls, so the heartbeat sweep never shares
// a write-side race with the connection's own goroutine.
func (c *client) ping() bool {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)) == nil
}

// terminate closes the connection and the done channel exactly once. It is
// safe to call from the heartbeat sweep, the read pump, or the write pump.
func (c *client) terminate() {
	c.once.Do(func() {
		_ = c.conn.Close()
		close(c.done)
	})
}
