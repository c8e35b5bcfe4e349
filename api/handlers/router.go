package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/session"
	"github.com/remote-agent-terminal/tabmux/internal/ws"
)

// NewRouter builds the HTTP API around a session manager. wsService may be
// nil to leave out the attach endpoint; a nil origins admits loopback pages
// only.
func NewRouter(sessionManager *session.Manager, wsService *ws.Service, origins *ws.OriginPolicy, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if origins == nil {
		origins = ws.NewOriginPolicy(nil)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log), corsMiddleware(origins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		NewTabHandler(sessionManager).RegisterRoutes(api)
		NewTransferHandler(sessionManager).RegisterRoutes(api)
		NewSessionHandler(sessionManager).RegisterRoutes(api)
		if wsService != nil {
			NewWebSocketHandler(wsService.Handler(), log).RegisterRoutes(api)
		}
	}
	return r
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// corsMiddleware admits browser requests from allowed origins only. The
// allowed origin is echoed back; requests from any other origin get 403.
func corsMiddleware(origins *ws.OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !origins.Allowed(origin) {
			sendError(c, http.StatusForbidden, "ORIGIN_NOT_ALLOWED", "origin "+origin+" is not allowed")
			c.Abort()
			return
		}
		if origin == "" {
			c.Next()
			return
		}

		c.Writer.Header().Add("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
