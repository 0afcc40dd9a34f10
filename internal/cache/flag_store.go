package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SAP-F-2025/results-sync/internal/events"
)

var _ events.FlagStore = (*RedisFlagStore)(nil)

// RedisFlagStore keeps device flags in Redis with a TTL.
type RedisFlagStore struct {
	helper *CacheHelper
	ttl    time.Duration
}

func NewRedisFlagStore(helper *CacheHelper, ttl time.Duration) (*RedisFlagStore, error) {
	if helper == nil || !helper.Available() {
		return nil, ErrCacheNotAvailable
	}
	if ttl <= 0 {
		ttl = FlagCacheConfig.TTL
	}
	return &RedisFlagStore{helper: helper, ttl: ttl}, nil
}

func (s *RedisFlagStore) Set(ctx context.Context, key, value string) error {
	if err := s.helper.SetString(ctx, key, value, s.ttl); err != nil {
		return fmt.Errorf("failed to set flag: %w", err)
	}
	return nil
}

// Take uses GETDEL so concurrent takers never both observe the value.
func (s *RedisFlagStore) Take(ctx context.Context, key string) (string, bool, error) {
	value, err := s.helper.TakeString(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisFlagStore) Delete(ctx context.Context, keys ...string) error {
	if err := s.helper.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete flags: %w", err)
	}
	return nil
}

func (s *RedisFlagStore) Ping(ctx context.Context) error {
	if err := s.helper.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
