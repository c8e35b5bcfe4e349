package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/tabmux/internal/session"
)

// TransferHandler handles HTTP requests for file transfers.
type TransferHandler struct {
	sessionManager *session.Manager
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(sessionManager *session.Manager) *TransferHandler {
	return &TransferHandler{sessionManager: sessionManager}
}

// StartTransferRequest is the body of POST /api/tabs/:index/transfers.
type StartTransferRequest struct {
	Type       string `json:"type" binding:"required,oneof=upload download"`
	LocalPath  string `json:"localPath" binding:"required"`
	RemotePath string `json:"remotePath" binding:"required"`
}

// List handles GET /api/tabs/:index/transfers.
func (h *TransferHandler) List(c *gin.Context) {
	records, err := h.sessionManager.Transfers(c.Param("index"))
	if err != nil {
		sendErr(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// Start handles POST /api/tabs/:index/transfers. Progress arrives as
// transfer records; the response only carries the ID.
func (h *TransferHandler) Start(c *gin.Context) {
	var req StartTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	id, err := h.sessionManager.StartTransfer(c.Request.Context(), c.Param("index"), session.TransferRequest{
		Type:       req.Type,
		LocalPath:  req.LocalPath,
		RemotePath: req.RemotePath,
	})
	if err != nil {
		sendErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// Clear handles DELETE /api/tabs/:index/transfers.
func (h *TransferHandler) Clear(c *gin.Context) {
	if err := h.sessionManager.ClearTransfers(c.Param("index")); err != nil {
		sendErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Remove handles DELETE /api/tabs/:index/transfers/:id.
func (h *TransferHandler) Remove(c *gin.Context) {
	if err := h.sessionManager.RemoveTransfer(c.Param("index"), c.Param("id")); err != nil {
		sendErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Cancel handles POST /api/transfers/:id/cancel.
func (h *TransferHandler) Cancel(c *gin.Context) {
	if err := h.sessionManager.CancelTransfer(c.Request.Context(), c.Param("id")); err != nil {
		sendErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the transfer routes on a Gin router group.
func (h *TransferHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tabs/:index/transfers", h.List)
	rg.POST("/tabs/:index/transfers", h.Start)
	rg.DELETE("/tabs/:index/transfers", h.Clear)
	rg.DELETE("/tabs/:index/transfers/:id", h.Remove)
	rg.POST("/transfers/:id/cancel", h.Cancel)
}
