package session

import (
	"net/http"

	"marketfeed/internal/obslog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UpgradeHandler returns a gin handler that upgrades the connection to a
// WebSocket and registers it with mgr. Mount it at the root path.
func UpgradeHandler(mgr *Manager, log *obslog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warning("session: websocket upgrade failed: %v", err)
			return
		}
		id := mgr.Accept(conn)
		log.Debug("session: accepted connection %s", id)
	}
}
