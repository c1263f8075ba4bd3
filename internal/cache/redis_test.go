package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sle-predictor-server/internal/domain"
)

// getTestRedis connects to TEST_REDIS_URL or skips the test.
func getTestRedis(t *testing.T) *RedisCache {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis tests")
	}

	c, err := NewRedisCache(domain.CacheConfig{RedisURL: url, DefaultTTL: time.Minute, PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisCache_SetGet(t *testing.T) {
	c := getTestRedis(t)
	ctx := context.Background()
	want := &domain.PredictionResult{
		ID:             uuid.NewString(),
		SLEProbability: 0.823,
		Timestamp:      "2024-01-15T14:30:00.123Z",
		InputData:      domain.PatientRecord{"Age": 45.0},
	}

	require.NoError(t, c.Set(ctx, want))

	got, err := c.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.SLEProbability, got.SLEProbability)
	assert.Equal(t, 45.0, got.InputData["Age"])
	assert.NoError(t, c.Ping(ctx))
}

func TestRedisCache_Miss(t *testing.T) {
	c := getTestRedis(t)

	_, err := c.Get(context.Background(), uuid.NewString())

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewRedisCache_BadURL(t *testing.T) {
	_, err := NewRedisCache(domain.CacheConfig{RedisURL: "://bad"})
	assert.Error(t, err)
}
