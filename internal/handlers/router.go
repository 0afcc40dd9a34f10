package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
	"github.com/SAP-F-2025/results-sync/internal/services"
	"github.com/SAP-F-2025/results-sync/internal/utils"
	"github.com/SAP-F-2025/results-sync/internal/validator"
)

const healthCheckTimeout = 2 * time.Second

type HandlerManager struct {
	resultsHandler *ResultsHandler
	sessionHandler *SessionHandler
	authMiddleware *TokenAuth
	sessions       services.SessionManager
}

func NewHandlerManager(
	sessions services.SessionManager,
	resolver repositories.IdentityResolver,
	validator *validator.Validator,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		resultsHandler: NewResultsHandler(sessions, validator, logger),
		sessionHandler: NewSessionHandler(sessions, resolver, validator, logger),
		authMiddleware: NewTokenAuth(resolver, sessions.Scope, logger),
		sessions:       sessions,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		results := v1.Group("/results")
		{
			results.GET("", hm.resultsHandler.GetResults)
			results.POST("/refresh", hm.resultsHandler.RefreshResults)
			results.GET("/:exam_id/state", hm.resultsHandler.GetRetryState)
			results.GET("/:exam_id/submissions", hm.resultsHandler.GetSubmissions)
		}

		v1.GET("/history", hm.sessionHandler.GetHistory)
		v1.POST("/exams/:exam_id/finished", hm.sessionHandler.ExamFinished)

		reference := v1.Group("/reference")
		{
			reference.GET("", hm.sessionHandler.GetReference)
			// Teachers and Admins only
			reference.POST("/changed", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.sessionHandler.ReferenceChanged)
		}

		v1.GET("/me", hm.sessionHandler.GetMe)
		v1.DELETE("/session", hm.sessionHandler.EndSession)

		admin := v1.Group("/admin")
		admin.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin))
		{
			admin.DELETE("/identity-cache", hm.sessionHandler.FlushIdentityCache)
		}
	}

	router.GET("/health", hm.healthCheck)
}

func (hm *HandlerManager) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := hm.sessions.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "results-sync",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "results-sync",
		"sessions": hm.sessions.Count(),
	})
}
