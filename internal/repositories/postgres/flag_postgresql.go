package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

var _ repositories.FlagRepository = (*FlagPostgreSQL)(nil)

// FlagPostgreSQL stores device flags in the device_flags table
type FlagPostgreSQL struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewFlagPostgreSQL(db *gorm.DB, ttl time.Duration) *FlagPostgreSQL {
	return &FlagPostgreSQL{
		db:  db,
		ttl: ttl,
		now: time.Now,
	}
}

// Set upserts key
func (r *FlagPostgreSQL) Set(ctx context.Context, key, value string) error {
	flag := models.DeviceFlag{
		Key:       key,
		Value:     value,
		CreatedAt: r.now().UTC(),
	}
	if r.ttl > 0 {
		expiresAt := flag.CreatedAt.Add(r.ttl)
		flag.ExpiresAt = &expiresAt
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "created_at"}),
		}).
		Create(&flag).Error
	if err != nil {
		return fmt.Errorf("failed to set flag: %w", err)
	}
	return nil
}

// Take deletes key and returns the deleted value. DELETE ... RETURNING lets
// only one concurrent caller see the row.
func (r *FlagPostgreSQL) Take(ctx context.Context, key string) (string, bool, error) {
	var deleted []models.DeviceFlag
	err := r.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("key = ?", key).
		Delete(&deleted).Error
	if err != nil {
		return "", false, fmt.Errorf("failed to take flag: %w", err)
	}
	if len(deleted) == 0 {
		return "", false, nil
	}

	flag := deleted[0]
	if flag.ExpiresAt != nil && !r.now().Before(*flag.ExpiresAt) {
		return "", false, nil
	}
	return flag.Value, true, nil
}

// Delete removes keys
func (r *FlagPostgreSQL) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Where("key IN ?", keys).
		Delete(&models.DeviceFlag{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete flags: %w", err)
	}
	return nil
}

// PurgeExpired removes flags past their expiry and reports how many went
func (r *FlagPostgreSQL) PurgeExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", r.now().UTC()).
		Delete(&models.DeviceFlag{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge expired flags: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ping checks the health of the database connection
func (r *FlagPostgreSQL) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *FlagPostgreSQL) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		if errors.Is(err, gorm.ErrInvalidDB) {
			return nil
		}
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
