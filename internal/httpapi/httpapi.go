// Package httpapi exposes the service's HTTP surface: health, websocket
// stats, and the WebSocket upgrade route.
package httpapi

import (
	"net/http"
	"strings"

	"marketfeed/internal/broadcaster"
	"marketfeed/internal/obslog"
	"marketfeed/internal/session"

	"github.com/gin-gonic/gin"
)

// StatsProvider supplies the Broadcaster's live room/client counters.
type StatsProvider interface {
	Stats() broadcaster.Stats
}

// SessionCounter supplies the Session Manager's live connection count.
type SessionCounter interface {
	SessionCount() int
}

// Server wraps a gin.Engine configured with this service's routes.
type Server struct {
	engine *gin.Engine
	log    *obslog.Logger

	stats    StatsProvider
	sessions SessionCounter
}

// New builds a Server. debug controls gin's run mode.
func New(debug bool, mgr *session.Manager, stats StatsProvider, sessions SessionCounter, log *obslog.Logger) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{engine: gin.New(), log: log, stats: stats, sessions: sessions}
	s.engine.Use(gin.Recovery())
	s.engine.Use(corsMiddleware())

	s.engine.GET("/health", s.getHealth)
	s.engine.GET("/health/ws-stats", s.getWSStats)
	s.engine.GET("/", session.UpgradeHandler(mgr, log))

	return s
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", "Content-Length", "Accept-Encoding", "Authorization",
		}, ", "))
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "OK",
		"services": gin.H{
			"broadcaster": "OK",
			"sessions":    s.sessions.SessionCount(),
		},
	})
}

func (s *Server) getWSStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Stats())
}
