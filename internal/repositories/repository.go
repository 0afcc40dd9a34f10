package repositories

import (
	"context"

	"github.com/SAP-F-2025/results-sync/internal/models"
)

// GradingRepository reads from the Grading Service on behalf of one
// authenticated user.
type GradingRepository interface {
	FetchExamHistory(ctx context.Context) (*models.ExamHistory, error)
	FetchSubmissions(ctx context.Context, examID string, version int) ([]models.SubmissionRecord, error)
	FetchIdentity(ctx context.Context) (*models.Identity, error)
	FetchReferenceData(ctx context.Context) (*models.ReferenceData, error)
}

// GradingClientFactory binds a bearer token to a GradingRepository
type GradingClientFactory interface {
	ForToken(token string) GradingRepository
}

// IdentityResolver validates a bearer token and returns its owner
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*models.Identity, error)
}

// IdentityForgetter is implemented by resolvers that cache resolved
// identities. Forget evicts one token, ForgetAll every token.
type IdentityForgetter interface {
	Forget(ctx context.Context, token string)
	ForgetAll(ctx context.Context)
}

// FlagRepository is durable per-device flag storage
type FlagRepository interface {
	Set(ctx context.Context, key, value string) error
	Take(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error

	// Health check
	Ping(ctx context.Context) error
}
