package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/results-sync/internal/repositories"
	"github.com/SAP-F-2025/results-sync/internal/services"
	"github.com/SAP-F-2025/results-sync/internal/utils"
	"github.com/SAP-F-2025/results-sync/internal/validator"
)

type ErrorResponse struct {
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Path      string      `json:"path,omitempty"`
}

type SuccessResponse struct {
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BaseHandler carries the logger and error mapping shared by every handler
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) requestLogger(c *gin.Context) utils.Logger {
	return utils.GetLogger(c, h.logger)
}

// LogRequest logs the start of a handler with the caller's scope
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	args = append(args, "user_scope", c.GetString(ContextKeyScope))
	h.requestLogger(c).Debug(msg, args...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	args = append(args, "error", err, "path", c.Request.URL.Path)
	h.requestLogger(c).Error(msg, args...)
}

func (h *BaseHandler) respondError(c *gin.Context, status int, message string, details interface{}) {
	c.JSON(status, ErrorResponse{
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		Path:      c.Request.URL.Path,
	})
}

func (h *BaseHandler) badRequest(c *gin.Context, message string, details interface{}) {
	h.respondError(c, http.StatusBadRequest, message, details)
}

// handleServiceError maps engine errors to HTTP status codes
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var queryErr *services.QueryError
	var transportErr *repositories.TransportError

	switch {
	case validator.IsValidationError(err):
		h.badRequest(c, "Validation failed", validator.ToValidationErrors(err))
	case errors.As(err, &queryErr):
		h.badRequest(c, "Invalid query", gin.H{"field": queryErr.Field, "reason": queryErr.Message})
	case errors.Is(err, repositories.ErrUnauthorized):
		h.respondError(c, http.StatusUnauthorized, "Unauthorized", nil)
	case errors.Is(err, repositories.ErrNotFound):
		h.respondError(c, http.StatusNotFound, "Resource not found", nil)
	case errors.As(err, &transportErr):
		h.requestLogger(c).Warn("Grading service call failed", "op", transportErr.Op, "status", transportErr.StatusCode, "error", err)
		h.respondError(c, http.StatusBadGateway, "Grading service unavailable", transportErr.Message)
	case errors.Is(err, services.ErrManagerClosed), errors.Is(err, services.ErrSessionClosed):
		h.respondError(c, http.StatusServiceUnavailable, "Service is shutting down", nil)
	default:
		h.LogError(c, err, "Unexpected service error")
		h.respondError(c, http.StatusInternalServerError, "Internal server error", nil)
	}
}

// errorMessage renders a view error for embedding in a successful response
func errorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
