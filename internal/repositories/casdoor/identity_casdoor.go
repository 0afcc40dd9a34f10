package casdoor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"

	"github.com/SAP-F-2025/results-sync/internal/cache"
	"github.com/SAP-F-2025/results-sync/internal/config"
	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

var (
	_ repositories.IdentityResolver  = (*IdentityCasdoor)(nil)
	_ repositories.IdentityForgetter = (*IdentityCasdoor)(nil)
)

// IdentityCasdoor verifies bearer tokens with Casdoor and maps the claims to
// an Identity. Resolved identities are cached under a hash of the token.
type IdentityCasdoor struct {
	parse    func(token string) (*casdoorsdk.Claims, error)
	cache    *cache.CacheHelper
	cacheTTL time.Duration
	logger   *slog.Logger
}

func NewIdentityCasdoor(cfg config.CasdoorConfig, cm *cache.CacheManager, logger *slog.Logger) *IdentityCasdoor {
	client := casdoorsdk.NewClient(
		cfg.Endpoint,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.Cert,
		cfg.Organization,
		cfg.Application,
	)

	return newIdentityCasdoor(client.ParseJwtToken, cm, logger)
}

func newIdentityCasdoor(parse func(string) (*casdoorsdk.Claims, error), cm *cache.CacheManager, logger *slog.Logger) *IdentityCasdoor {
	helper := cache.NewCacheHelper(nil, cache.IdentityCacheConfig.Prefix)
	if cm != nil {
		helper = cm.Identity
	}
	return &IdentityCasdoor{
		parse:    parse,
		cache:    helper,
		cacheTTL: cache.IdentityCacheConfig.TTL,
		logger:   logger,
	}
}

// Resolve validates token and returns the identity it carries
func (r *IdentityCasdoor) Resolve(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, repositories.ErrUnauthorized
	}

	var identity models.Identity
	err := r.cache.CacheOrExecute(ctx, tokenCacheKey(token), &identity, r.cacheTTL, func() (interface{}, error) {
		claims, err := r.parse(token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", repositories.ErrUnauthorized, err)
		}
		return r.convertClaimsToIdentity(claims)
	})
	if err != nil {
		r.logger.DebugContext(ctx, "Token rejected", "error", err)
		return nil, err
	}

	return &identity, nil
}

// Forget drops the cached identity of token
func (r *IdentityCasdoor) Forget(ctx context.Context, token string) {
	cache.SafeDelete(ctx, r.cache, tokenCacheKey(token))
}

// ForgetAll drops every cached identity
func (r *IdentityCasdoor) ForgetAll(ctx context.Context) {
	cache.InvalidateAllIdentities(ctx, r.cache)
}

func tokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ===== CONVERSION METHODS =====

func (r *IdentityCasdoor) convertClaimsToIdentity(claims *casdoorsdk.Claims) (*models.Identity, error) {
	if claims == nil {
		return nil, errors.New("empty token claims")
	}

	user := claims.User
	if user.Id == "" {
		return nil, fmt.Errorf("%w: invalid user ID in token", repositories.ErrUnauthorized)
	}

	name := user.DisplayName
	if name == "" {
		name = user.Name
	}

	identity := &models.Identity{
		UserID:         user.Id,
		Name:           name,
		Role:           r.convertCasdoorRolesToModel(&user),
		RollNumber:     optionalProperty(user.Properties, "roll_number"),
		DepartmentName: optionalProperty(user.Properties, "department_name"),
		SectionName:    optionalProperty(user.Properties, "section_name"),
	}

	if year := optionalProperty(user.Properties, "year"); year != nil {
		if parsed, err := strconv.Atoi(*year); err == nil {
			identity.Year = &parsed
		}
	}

	return identity, nil
}

func (r *IdentityCasdoor) convertCasdoorRolesToModel(user *casdoorsdk.User) models.UserRole {
	var roles []models.UserRole
	for _, casdoorRole := range user.Roles {
		if casdoorRole == nil {
			continue
		}
		mapped := mapSingleCasdoorRoleToUserRole(casdoorRole.Name)
		if !slices.Contains(roles, mapped) {
			roles = append(roles, mapped)
		}
	}

	// if contain admin, only keep admin
	if slices.Contains(roles, models.RoleAdmin) || user.IsAdmin {
		return models.RoleAdmin
	}

	if len(roles) == 0 {
		if user.Type != "" {
			return mapSingleCasdoorRoleToUserRole(user.Type)
		}
		return models.RoleStudent
	}
	return roles[0]
}

func mapSingleCasdoorRoleToUserRole(casdoorType string) models.UserRole {
	switch strings.ToLower(casdoorType) {
	case "teacher", "instructor", "educator":
		return models.RoleTeacher
	case "proctor", "supervisor":
		return models.RoleProctor
	case "admin", "administrator":
		return models.RoleAdmin
	default:
		return models.RoleStudent
	}
}

func optionalProperty(properties map[string]string, key string) *string {
	value, ok := properties[key]
	if !ok || value == "" {
		return nil
	}
	return &value
}
