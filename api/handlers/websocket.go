package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/ws"
)

// WebSocketHandler attaches WebSocket clients to tab terminals.
type WebSocketHandler struct {
	wsHandler *ws.Handler
	log       *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketHandler{wsHandler: wsHandler, log: log}
}

// Attach handles GET /api/tabs/:index/attach.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	index := c.Param("index")
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, index); err != nil {
		// The upgrader already wrote the HTTP error.
		h.log.Warn("websocket upgrade failed", zap.String("tab", index), zap.Error(err))
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tabs/:index/attach", h.Attach)
}
