package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
	"github.com/SAP-F-2025/results-sync/internal/utils"
)

// Gin context keys set by TokenAuth
const (
	ContextKeyToken    = "auth_token"
	ContextKeyScope    = "user_scope"
	ContextKeyIdentity = "identity"
	ContextKeyUserID   = "user_id"
	ContextKeyUserRole = "user_role"
)

// TokenAuth authenticates bearer tokens with an IdentityResolver, which is
// Casdoor when configured and the Grading Service whoami otherwise.
type TokenAuth struct {
	resolver repositories.IdentityResolver
	scopeOf  func(token string) string
	logger   utils.Logger
}

func NewTokenAuth(resolver repositories.IdentityResolver, scopeOf func(string) string, logger utils.Logger) *TokenAuth {
	return &TokenAuth{
		resolver: resolver,
		scopeOf:  scopeOf,
		logger:   logger,
	}
}

// AuthMiddleware rejects requests without a valid bearer token
func (ta *TokenAuth) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		identity, err := ta.resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			if repositories.IsTransportError(err) && !errors.Is(err, repositories.ErrUnauthorized) {
				utils.GetLogger(c, ta.logger).Warn("Identity lookup failed", "error", err)
				c.AbortWithStatusJSON(http.StatusBadGateway, ErrorResponse{
					Message:   "Identity service unavailable",
					Timestamp: time.Now().UTC(),
					Path:      c.Request.URL.Path,
				})
				return
			}
			abortUnauthorized(c, fmt.Sprintf("invalid token: %v", err))
			return
		}

		c.Set(ContextKeyToken, token)
		c.Set(ContextKeyScope, ta.scopeOf(token))
		c.Set(ContextKeyIdentity, identity)
		c.Set(ContextKeyUserID, identity.UserID)
		c.Set(ContextKeyUserRole, identity.Role)

		c.Next()
	}
}

// RequireRoleMiddleware checks if user has required role
func (ta *TokenAuth) RequireRoleMiddleware(requiredRoles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := GetUserRoleFromContext(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message:   err.Error(),
				Timestamp: time.Now().UTC(),
				Path:      c.Request.URL.Path,
			})
			return
		}

		for _, requiredRole := range requiredRoles {
			if role == requiredRole || role == models.RoleAdmin {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
			Message:   fmt.Sprintf("insufficient permissions, required role: %v", requiredRoles),
			Timestamp: time.Now().UTC(),
			Path:      c.Request.URL.Path,
		})
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header missing")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Message:   message,
		Timestamp: time.Now().UTC(),
		Path:      c.Request.URL.Path,
	})
}

// GetTokenFromContext returns the bearer token stored by AuthMiddleware
func GetTokenFromContext(c *gin.Context) (string, error) {
	token := c.GetString(ContextKeyToken)
	if token == "" {
		return "", fmt.Errorf("token not found in context")
	}
	return token, nil
}

// GetIdentityFromContext extracts the identity from Gin context
func GetIdentityFromContext(c *gin.Context) (*models.Identity, error) {
	value, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil, fmt.Errorf("identity not found in context")
	}

	identity, ok := value.(*models.Identity)
	if !ok {
		return nil, fmt.Errorf("invalid identity type in context")
	}
	return identity, nil
}

// GetUserRoleFromContext extracts user role from Gin context
func GetUserRoleFromContext(c *gin.Context) (models.UserRole, error) {
	userRole, exists := c.Get(ContextKeyUserRole)
	if !exists {
		return "", fmt.Errorf("user role not found in context")
	}

	role, ok := userRole.(models.UserRole)
	if !ok {
		return "", fmt.Errorf("invalid user role type in context")
	}
	return role, nil
}
