package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedIdentity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

func TestCacheHelper_NilClientDegrades(t *testing.T) {
	helper := NewCacheHelper(nil, "identity:")
	ctx := context.Background()

	assert.False(t, helper.Available())
	assert.NoError(t, helper.Set(ctx, "k", "v", time.Minute))
	assert.NoError(t, helper.Delete(ctx, "k"))
	assert.NoError(t, helper.InvalidatePattern(ctx, "*"))

	var dest string
	assert.ErrorIs(t, helper.Get(ctx, "k", &dest), ErrCacheNotAvailable)
	_, err := helper.TakeString(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheNotAvailable)

	assert.ErrorIs(t, NewCacheManager(nil).HealthCheck(ctx), ErrCacheNotAvailable)
}

func TestCacheHelper_CacheOrExecute(t *testing.T) {
	_, client := newTestRedis(t)
	cm := NewCacheManager(client)
	ctx := context.Background()

	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return cachedIdentity{UserID: "u1", Name: "Ada"}, nil
	}

	var first, second cachedIdentity
	require.NoError(t, cm.Identity.CacheOrExecute(ctx, "scope", &first, time.Minute, fetch))
	require.NoError(t, cm.Identity.CacheOrExecute(ctx, "scope", &second, time.Minute, fetch))

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, "Ada", second.Name)

	SafeDelete(ctx, cm.Identity, "scope")
	var third cachedIdentity
	require.NoError(t, cm.Identity.CacheOrExecute(ctx, "scope", &third, time.Minute, fetch))
	assert.Equal(t, 2, calls)

	failing := func() (interface{}, error) { return nil, errors.New("down") }
	var missing cachedIdentity
	assert.Error(t, cm.Identity.CacheOrExecute(ctx, "other", &missing, time.Minute, failing))
}

func TestCacheHelper_InvalidatePattern(t *testing.T) {
	mr, client := newTestRedis(t)
	cm := NewCacheManager(client)
	ctx := context.Background()

	require.NoError(t, cm.Identity.SetString(ctx, "a", "1", time.Minute))
	require.NoError(t, cm.Identity.SetString(ctx, "b", "2", time.Minute))
	require.NoError(t, cm.Flags.SetString(ctx, "c", "3", time.Minute))

	InvalidateAllIdentities(ctx, cm.Identity)

	assert.False(t, mr.Exists("identity:a"))
	assert.False(t, mr.Exists("identity:b"))
	assert.True(t, mr.Exists("flag:c"))
	assert.NoError(t, cm.HealthCheck(ctx))
}
