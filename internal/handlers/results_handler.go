package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/services"
	"github.com/SAP-F-2025/results-sync/internal/utils"
	"github.com/SAP-F-2025/results-sync/internal/validator"
)

// ResultsResponse is the results view as rendered for the browser
type ResultsResponse struct {
	Version    uint64                  `json:"version"`
	Results    []models.ExamResultView `json:"results"`
	Processing map[string]bool         `json:"processing"`
	Error      *string                 `json:"error,omitempty"`
}

type RetryStateResponse struct {
	ExamKey     string `json:"exam_key"`
	MaxAttempts int    `json:"max_attempts"`
	services.RetryState
}

type ResultsHandler struct {
	BaseHandler
	sessions  services.SessionManager
	validator *validator.Validator
}

func NewResultsHandler(sessions services.SessionManager, validator *validator.Validator, logger utils.Logger) *ResultsHandler {
	return &ResultsHandler{
		BaseHandler: NewBaseHandler(logger),
		sessions:    sessions,
		validator:   validator,
	}
}

// GetResults returns the reconciled results of the caller
// @Summary Get exam results
// @Tags results
// @Produce json
// @Param search query string false "Substring of the subject name"
// @Param language query string false "Exam language"
// @Param min_score query number false "Lowest score to include"
// @Param max_score query number false "Highest score to include"
// @Param sort_by query string false "name|language|duration|score|submitted with _asc or _desc (default: submitted_desc)"
// @Success 200 {object} ResultsResponse
// @Failure 400 {object} ErrorResponse "Bad request"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Router /results [get]
func (h *ResultsHandler) GetResults(c *gin.Context) {
	h.LogRequest(c, "Getting results")

	var query services.ResultQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.badRequest(c, "Invalid query parameters", err.Error())
		return
	}
	if err := h.validator.Struct(query); err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := query.Validate(); err != nil {
		h.handleServiceError(c, err)
		return
	}

	session, ok := acquireSession(c, &h.BaseHandler, h.sessions)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, h.render(c, session, query))
}

// RefreshResults reloads the exam history and re-schedules grade fetches
// @Summary Refresh exam results
// @Tags results
// @Produce json
// @Success 200 {object} ResultsResponse
// @Failure 502 {object} ErrorResponse "Grading service unavailable"
// @Router /results/refresh [post]
func (h *ResultsHandler) RefreshResults(c *gin.Context) {
	h.LogRequest(c, "Refreshing results")

	session, ok := acquireSession(c, &h.BaseHandler, h.sessions)
	if !ok {
		return
	}

	if err := session.Results().Load(c.Request.Context()); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.render(c, session, services.ResultQuery{}))
}

// GetRetryState returns the background fetch counters of one exam
// @Summary Get grade polling state of an exam
// @Tags results
// @Produce json
// @Param exam_id path string true "Exam ID"
// @Param version query int false "Exam version (default: 1)"
// @Success 200 {object} RetryStateResponse
// @Router /results/{exam_id}/state [get]
func (h *ResultsHandler) GetRetryState(c *gin.Context) {
	examID := c.Param("exam_id")
	h.LogRequest(c, "Getting retry state", "exam_id", examID)

	key, ok := h.examKey(c, examID)
	if !ok {
		return
	}

	session, ok := acquireSession(c, &h.BaseHandler, h.sessions)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, RetryStateResponse{
		ExamKey:     key.String(),
		MaxAttempts: session.Results().RetryMaxAttempts(),
		RetryState:  session.Results().RetryState(key),
	})
}

// GetSubmissions returns one exam's submissions grouped by question with the
// best and final submission of each question marked
// @Summary Get exam submissions
// @Tags results
// @Produce json
// @Param exam_id path string true "Exam ID"
// @Param version query int false "Exam version (default: 1)"
// @Param view query string false "all|best|final (default: all)"
// @Success 200 {object} services.ExamSubmissions
// @Failure 400 {object} ErrorResponse "Bad request"
// @Failure 502 {object} ErrorResponse "Grading service unavailable"
// @Router /results/{exam_id}/submissions [get]
func (h *ResultsHandler) GetSubmissions(c *gin.Context) {
	examID := c.Param("exam_id")
	h.LogRequest(c, "Getting submissions", "exam_id", examID)

	if err := h.validator.Var(examID, "required,max=128"); err != nil {
		h.handleServiceError(c, err)
		return
	}
	key, ok := h.examKey(c, examID)
	if !ok {
		return
	}
	view, err := services.ParseSubmissionsView(c.Query("view"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	session, ok := acquireSession(c, &h.BaseHandler, h.sessions)
	if !ok {
		return
	}

	result, err := session.Submissions(c.Request.Context(), key, view)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// examKey reads the optional version query parameter. It writes a 400 and
// returns false when the version is not a positive integer.
func (h *ResultsHandler) examKey(c *gin.Context, examID string) (models.ExamKey, bool) {
	version := models.DefaultExamVersion
	if raw := c.Query("version"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.badRequest(c, "Invalid version", "version must be a positive integer")
			return models.ExamKey{}, false
		}
		version = parsed
	}
	return models.NewExamKey(examID, version), true
}

func (h *ResultsHandler) render(c *gin.Context, session *services.Session, query services.ResultQuery) ResultsResponse {
	view := session.Results()
	snapshot := view.Snapshot()

	rows, err := query.Apply(snapshot.Entries)
	if err != nil {
		// query was validated by the caller
		h.LogError(c, err, "Failed to apply results query")
		rows = snapshot.Entries
	}

	return ResultsResponse{
		Version:    snapshot.Version,
		Results:    rows,
		Processing: view.ProcessingFlags(),
		Error:      errorMessage(view.Err()),
	}
}
