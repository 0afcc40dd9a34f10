package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

const referenceFlightKey = "reference-data"

// ReferenceCache holds the shared lookup tables. Concurrent loads share one
// request.
type ReferenceCache struct {
	repo   repositories.GradingRepository
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	data    *models.ReferenceData
	lastErr error
}

func NewReferenceCache(repo repositories.GradingRepository, logger *slog.Logger) *ReferenceCache {
	return &ReferenceCache{
		repo:   repo,
		logger: logger,
	}
}

// Load fetches the lookup tables. A failure keeps the last good copy, which
// is returned together with the error.
func (r *ReferenceCache) Load(ctx context.Context) (*models.ReferenceData, error) {
	v, err, shared := r.group.Do(referenceFlightKey, func() (interface{}, error) {
		return r.repo.FetchReferenceData(ctx)
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.lastErr = err
		r.logger.WarnContext(ctx, "Failed to load reference data", "error", err, "shared", shared)
		return cloneReference(r.data), fmt.Errorf("failed to load reference data: %w", err)
	}

	r.data = cloneReference(v.(*models.ReferenceData))
	r.lastErr = nil
	return cloneReference(r.data), nil
}

// Invalidate re-fetches the lookup tables, bypassing any load in flight.
func (r *ReferenceCache) Invalidate(ctx context.Context) error {
	r.group.Forget(referenceFlightKey)
	_, err := r.Load(ctx)
	return err
}

// Get returns the last good copy
func (r *ReferenceCache) Get() (*models.ReferenceData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneReference(r.data), r.data != nil
}

func (r *ReferenceCache) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func cloneReference(data *models.ReferenceData) *models.ReferenceData {
	if data == nil {
		return nil
	}
	c := *data
	c.Departments = append([]models.Department(nil), data.Departments...)
	c.Years = append([]models.Year(nil), data.Years...)
	c.Sections = append([]models.Section(nil), data.Sections...)
	return &c
}
