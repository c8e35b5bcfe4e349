package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/session"
)

// SessionHandler serves the session history.
type SessionHandler struct {
	sessionManager *session.Manager
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionManager *session.Manager) *SessionHandler {
	return &SessionHandler{sessionManager: sessionManager}
}

// SessionResponse represents a history record in API responses.
type SessionResponse struct {
	LinkID    string `json:"linkId"`
	TabIndex  string `json:"tabIndex"`
	TabName   string `json:"tabName"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	User      string `json:"user"`
	Backend   string `json:"backend"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Duration  string `json:"duration"`
	CreatedAt string `json:"createdAt"`
	ClosedAt  string `json:"closedAt,omitempty"`
}

func toSessionResponse(s *model.SessionRecord) *SessionResponse {
	resp := &SessionResponse{
		LinkID:    s.LinkID,
		TabIndex:  s.TabIndex,
		TabName:   s.TabName,
		Host:      s.Host,
		Port:      s.Port,
		User:      s.User,
		Backend:   s.Backend,
		Status:    string(s.Status),
		Error:     s.Error,
		Duration:  formatDuration(s.Duration()),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
	if s.ClosedAt != nil {
		resp.ClosedAt = s.ClosedAt.Format(time.RFC3339)
	}
	return resp
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

// List handles GET /api/sessions?limit=N.
func (h *SessionHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.sessionManager.History(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}

	response := make([]*SessionResponse, len(records))
	for i, rec := range records {
		response[i] = toSessionResponse(rec)
	}
	c.JSON(http.StatusOK, response)
}

// RegisterRoutes registers the history routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions", h.List)
}
