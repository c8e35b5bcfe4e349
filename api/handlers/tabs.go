package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/tabmux/internal/codec"
	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/session"
	"github.com/remote-agent-terminal/tabmux/internal/terminal"
)

// TabHandler handles HTTP requests for tabs and their terminals.
type TabHandler struct {
	sessionManager *session.Manager
}

// NewTabHandler creates a new TabHandler.
func NewTabHandler(sessionManager *session.Manager) *TabHandler {
	return &TabHandler{sessionManager: sessionManager}
}

// CreateTabRequest is the body of POST /api/tabs.
type CreateTabRequest struct {
	Name    string                      `json:"name"`
	SSHInfo *model.ConnectionDescriptor `json:"sshInfo"`
}

// ConnectRequest is the body of POST /api/tabs/:index/connect.
type ConnectRequest struct {
	SSHInfo *model.ConnectionDescriptor `json:"sshInfo" binding:"required"`
}

// RenameRequest is the body of PUT /api/tabs/:index/name.
type RenameRequest struct {
	Name string `json:"name" binding:"required"`
}

// ResizeRequest is the body of POST /api/tabs/:index/resize.
type ResizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// DataRequest carries base64 terminal bytes.
type DataRequest struct {
	Data string `json:"data"`
}

// ConnectionResponse is a connection descriptor without credentials.
type ConnectionResponse struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	User    string `json:"user"`
	KeyPath string `json:"key,omitempty"`
}

// TabResponse represents a tab in API responses.
type TabResponse struct {
	Index        string              `json:"index"`
	Name         string              `json:"name"`
	Active       bool                `json:"active"`
	State        string              `json:"state"`
	LinkID       string              `json:"linkId,omitempty"`
	SSHInfo      *ConnectionResponse `json:"sshInfo,omitempty"`
	ConnectError string              `json:"connectError,omitempty"`
}

// TabListResponse is the body of GET /api/tabs.
type TabListResponse struct {
	Tabs   []*TabResponse `json:"tabs"`
	Active string         `json:"active"`
}

// OutputResponse is the body of GET /api/tabs/:index/output.
type OutputResponse struct {
	Data   string `json:"data"`
	State  string `json:"state"`
	LinkID string `json:"linkId,omitempty"`
}

func (h *TabHandler) toTabResponse(tab model.Tab) *TabResponse {
	resp := &TabResponse{
		Index:  tab.Index,
		Name:   tab.Name,
		Active: tab.Active,
		State:  terminal.StateClosed.String(),
	}
	if ctrl, err := h.sessionManager.Controller(tab.Index); err == nil {
		resp.State = ctrl.State().String()
		resp.LinkID = ctrl.LinkID()
	}
	if info := tab.SSHInfo; info != nil {
		resp.SSHInfo = &ConnectionResponse{Host: info.Host, Port: info.Port, User: info.User, KeyPath: info.KeyPath}
	}
	return resp
}

func (h *TabHandler) tabResponse(c *gin.Context, index string) (*TabResponse, bool) {
	tab, err := h.sessionManager.Registry().Get(index)
	if err != nil {
		sendErr(c, err)
		return nil, false
	}
	return h.toTabResponse(tab), true
}

func (h *TabHandler) sendCreateResult(c *gin.Context, res *session.CreateResult) {
	resp := h.toTabResponse(res.Tab)
	if res.ConnectErr != nil {
		resp.ConnectError = res.ConnectErr.Error()
	}
	c.JSON(http.StatusCreated, resp)
}

// List handles GET /api/tabs.
func (h *TabHandler) List(c *gin.Context) {
	tabs, active := h.sessionManager.Tabs()
	resp := TabListResponse{Tabs: make([]*TabResponse, len(tabs)), Active: active}
	for i, tab := range tabs {
		resp.Tabs[i] = h.toTabResponse(tab)
	}
	c.JSON(http.StatusOK, resp)
}

// Create handles POST /api/tabs. A failed automatic connect still creates
// the tab and is reported in connectError.
func (h *TabHandler) Create(c *gin.Context) {
	var req CreateTabRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
			return
		}
	}

	res, err := h.sessionManager.CreateTab(c.Request.Context(), req.Name, req.SSHInfo)
	if err != nil {
		sendErr(c, err)
		return
	}
	h.sendCreateResult(c, res)
}

// Close handles DELETE /api/tabs/:index.
func (h *TabHandler) Close(c *gin.Context) {
	active, err := h.sessionManager.CloseTab(c.Param("index"))
	if err != nil {
		sendErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

// Duplicate handles POST /api/tabs/:index/duplicate.
func (h *TabHandler) Duplicate(c *gin.Context) {
	res, err := h.sessionManager.DuplicateTab(c.Request.Context(), c.Param("index"))
	if err != nil {
		sendErr(c, err)
		return
	}
	h.sendCreateResult(c, res)
}

// Rename handles PUT /api/tabs/:index/name.
func (h *TabHandler) Rename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	index := c.Param("index")
	if err := h.sessionManager.RenameTab(index, req.Name); err != nil {
		sendErr(c, err)
		return
	}
	if resp, ok := h.tabResponse(c, index); ok {
		c.JSON(http.StatusOK, resp)
	}
}

// Activate handles POST /api/tabs/:index/activate.
func (h *TabHandler) Activate(c *gin.Context) {
	index := c.Param("index")
	if err := h.sessionManager.SetActive(index); err != nil {
		sendErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": index})
}

// Connect handles POST /api/tabs/:index/connect.
func (h *TabHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	index := c.Param("index")
	if err := h.sessionManager.Connect(c.Request.Context(), index, *req.SSHInfo); err != nil {
		sendConnectErr(c, err)
		return
	}
	if resp, ok := h.tabResponse(c, index); ok {
		c.JSON(http.StatusOK, resp)
	}
}

// Reload handles POST /api/tabs/:index/reload.
func (h *TabHandler) Reload(c *gin.Context) {
	reloaded, err := h.sessionManager.ReloadTab(c.Request.Context(), c.Param("index"))
	if err != nil {
		sendConnectErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": reloaded})
}

// Resize handles POST /api/tabs/:index/resize. The new size reaches the
// remote after the debounce period.
func (h *TabHandler) Resize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if err := h.sessionManager.Resize(c.Param("index"), model.Geometry{Cols: req.Cols, Rows: req.Rows}); err != nil {
		sendErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Input handles POST /api/tabs/:index/input.
func (h *TabHandler) Input(c *gin.Context) {
	var req DataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	data, err := codec.Decode(req.Data)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if err := h.sessionManager.Input(c.Param("index"), data); err != nil {
		sendErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Output handles GET /api/tabs/:index/output.
func (h *TabHandler) Output(c *gin.Context) {
	ctrl, err := h.sessionManager.Controller(c.Param("index"))
	if err != nil {
		sendErr(c, err)
		return
	}
	c.JSON(http.StatusOK, OutputResponse{
		Data:   codec.Encode(ctrl.Output()),
		State:  ctrl.State().String(),
		LinkID: ctrl.LinkID(),
	})
}

// Clear handles POST /api/tabs/:index/clear. A live terminal is cleared
// through its registered handle.
func (h *TabHandler) Clear(c *gin.Context) {
	ctrl, err := h.sessionManager.Controller(c.Param("index"))
	if err != nil {
		sendErr(c, err)
		return
	}
	if th, ok := h.sessionManager.Handle(ctrl.LinkID()); ok {
		th.Clear()
	} else {
		ctrl.Clear()
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the tab routes on a Gin router group.
func (h *TabHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tabs := rg.Group("/tabs")
	{
		tabs.GET("", h.List)
		tabs.POST("", h.Create)
		tabs.DELETE("/:index", h.Close)
		tabs.POST("/:index/duplicate", h.Duplicate)
		tabs.PUT("/:index/name", h.Rename)
		tabs.POST("/:index/activate", h.Activate)
		tabs.POST("/:index/connect", h.Connect)
		tabs.POST("/:index/reload", h.Reload)
		tabs.POST("/:index/resize", h.Resize)
		tabs.POST("/:index/input", h.Input)
		tabs.GET("/:index/output", h.Output)
		tabs.POST("/:index/clear", h.Clear)
	}
}
