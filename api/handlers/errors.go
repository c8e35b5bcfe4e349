// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/session"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// errorStatus maps a sentinel error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrTabNotFound):
		return http.StatusNotFound, "TAB_NOT_FOUND"
	case errors.Is(err, model.ErrTransferNotFound):
		return http.StatusNotFound, "TRANSFER_NOT_FOUND"
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, model.ErrInvalidGeometry), errors.Is(err, model.ErrInvalidConnection):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, model.ErrNotConnected):
		return http.StatusConflict, "NOT_CONNECTED"
	case errors.Is(err, model.ErrBusy):
		return http.StatusConflict, "BUSY"
	case errors.Is(err, model.ErrUnsupported):
		return http.StatusNotImplemented, "UNSUPPORTED"
	case errors.Is(err, model.ErrControllerClosed), errors.Is(err, session.ErrManagerClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// sendErr maps err and sends it.
func sendErr(c *gin.Context, err error) {
	status, code := errorStatus(err)
	sendError(c, status, code, err.Error())
}

// sendConnectErr treats unknown errors as a failure to reach the remote.
func sendConnectErr(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		status, code = http.StatusBadGateway, "CONNECT_FAILED"
	}
	sendError(c, status, code, err.Error())
}
