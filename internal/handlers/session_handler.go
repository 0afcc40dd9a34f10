package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
	"github.com/SAP-F-2025/results-sync/internal/services"
	"github.com/SAP-F-2025/results-sync/internal/utils"
	"github.com/SAP-F-2025/results-sync/internal/validator"
)

type HistoryResponse struct {
	models.ExamHistory
	Loaded  bool    `json:"loaded"`
	Polling bool    `json:"polling"`
	Error   *string `json:"error,omitempty"`
}

type ReferenceResponse struct {
	*models.ReferenceData
	Error *string `json:"error,omitempty"`
}

type SessionHandler struct {
	BaseHandler
	sessions  services.SessionManager
	resolver  repositories.IdentityResolver
	validator *validator.Validator
}

func NewSessionHandler(sessions services.SessionManager, resolver repositories.IdentityResolver, validator *validator.Validator, logger utils.Logger) *SessionHandler {
	return &SessionHandler{
		BaseHandler: NewBaseHandler(logger),
		sessions:    sessions,
		resolver:    resolver,
		validator:   validator,
	}
}

// acquireSession mounts or reuses the session of the authenticated caller.
// It writes the error response and returns false on failure.
func acquireSession(c *gin.Context, h *BaseHandler, sessions services.SessionManager) (*services.Session, bool) {
	token, err := GetTokenFromContext(c)
	if err != nil {
		abortUnauthorized(c, err.Error())
		return nil, false
	}

	session, err := sessions.Acquire(c.Request.Context(), token)
	if err != nil {
		h.handleServiceError(c, err)
		return nil, false
	}
	return session, true
}

// GetHistory returns the cached exam history of the caller
// @Summary Get exam history
// @Tags history
// @Produce json
// @Success 200 {object} HistoryResponse
// @Router /history [get]
func (h *SessionHandler) GetHistory(c *gin.Context) {
	h.LogRequest(c, "Getting exam history")

	session, ok := acquireSession(c, &h.BaseHandler, h.sessions)
	if !ok {
		return
	}

	view := session.History()
	history, loaded := view.Snapshot()
	c.JSON(http.StatusOK, HistoryResponse{
		ExamHistory: history,
		Loaded:      loaded,
		Polling:     view.Polling(),
		Error:       errorMessage(view.Err()),
	})
}

// ExamFinished announces that an exam of the caller finished
// @Summary Announce an automatically finished exam
// @Tags exams
// @Param exam_id path string true "Exam ID"
// @Success 202 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse "Bad request"
// @Router /exams/{exam_id}/finished [post]
func (h *SessionHandler) ExamFinished(c *gin.Context) {
	examID := c.Param("exam_id")
	h.LogRequest(c, "Announcing finished exam", "exam_id", examID)

	if err := h.validator.Var(examID, "required,max=128"); err != nil {
		h.handleServiceError(c, err)
		return
	}

	token, err := GetTokenFromContext(c)
	if err != nil {
		abortUnauthorized(c, err.Error())
		return
	}

	if err := h.sessions.Announce(c.Request.Context(), token, examID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, SuccessResponse{
		Message:   "Exam finish announced",
		Data:      gin.H{"exam_id": examID, "user_scope": c.GetString(ContextKeyScope)},
		Timestamp: time.Now().UTC(),
	})
}

// GetReference returns the organizational lookup tables
// @Summary Get reference data
// @Tags reference
// @Produce json
// @Success 200 {object} ReferenceResponse
// @Router /reference [get]
func (h *SessionHandler) GetReference(c *gin.Context) {
	h.LogRequest(c, "Getting reference data")

	session, ok := acquireSession(c, &h.BaseHandler, h.sessions)
	if !ok {
		return
	}

	cache := session.Reference()
	data, loaded := cache.Get()
	if !loaded {
		var err error
		data, err = cache.Load(c.Request.Context())
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, ReferenceResponse{
		ReferenceData: data,
		Error:         errorMessage(cache.Err()),
	})
}

// ReferenceChanged tells every mounted session to reload the lookup tables
// @Summary Invalidate reference data
// @Tags reference
// @Success 202 {object} SuccessResponse
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Router /reference/changed [post]
func (h *SessionHandler) ReferenceChanged(c *gin.Context) {
	h.LogRequest(c, "Publishing reference data change")

	if err := h.sessions.PublishReferenceDataChanged(c.Request.Context()); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, SuccessResponse{
		Message:   "Reference data change published",
		Timestamp: time.Now().UTC(),
	})
}

// GetMe returns the identity of the caller
// @Summary Get current user
// @Tags session
// @Produce json
// @Success 200 {object} models.Identity
// @Router /me [get]
func (h *SessionHandler) GetMe(c *gin.Context) {
	h.LogRequest(c, "Getting identity")

	session, ok := acquireSession(c, &h.BaseHandler, h.sessions)
	if !ok {
		return
	}

	identity, err := session.Identity(c.Request.Context())
	if err != nil {
		// the token was already verified, fall back to its claims
		if fromToken, ctxErr := GetIdentityFromContext(c); ctxErr == nil {
			c.JSON(http.StatusOK, fromToken)
			return
		}
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, identity)
}

// EndSession unmounts the caller's views and evicts the cached identity of
// the token, so a logged-out token has to be verified again
// @Summary End session
// @Tags session
// @Success 200 {object} SuccessResponse
// @Router /session [delete]
func (h *SessionHandler) EndSession(c *gin.Context) {
	h.LogRequest(c, "Ending session")

	token, err := GetTokenFromContext(c)
	if err != nil {
		abortUnauthorized(c, err.Error())
		return
	}

	released := h.sessions.Release(token)
	if forgetter, ok := h.resolver.(repositories.IdentityForgetter); ok {
		forgetter.Forget(c.Request.Context(), token)
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message:   "Session ended",
		Data:      gin.H{"released": released},
		Timestamp: time.Now().UTC(),
	})
}

// FlushIdentityCache evicts every cached identity
// @Summary Flush the identity cache
// @Tags admin
// @Success 200 {object} SuccessResponse
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Router /admin/identity-cache [delete]
func (h *SessionHandler) FlushIdentityCache(c *gin.Context) {
	h.LogRequest(c, "Flushing identity cache")

	forgetter, ok := h.resolver.(repositories.IdentityForgetter)
	if ok {
		forgetter.ForgetAll(c.Request.Context())
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message:   "Identity cache flushed",
		Data:      gin.H{"flushed": ok},
		Timestamp: time.Now().UTC(),
	})
}
