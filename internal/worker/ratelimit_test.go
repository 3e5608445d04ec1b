package worker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/keepup-email-engine/internal/config"
	"github.com/ignite/keepup-email-engine/internal/jobs"
)

func setupRedisLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRateLimiter(client, nil), mr
}

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	limiter, _ := setupRedisLimiter(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "comp-1", 5, now)
		require.NoError(t, err)
		assert.True(t, allowed, "send %d should fit", i+1)
	}

	allowed, err := limiter.Allow(ctx, "comp-1", 5, now)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateLimiterIsolatesCompanies(t *testing.T) {
	limiter, _ := setupRedisLimiter(t)
	ctx := context.Background()
	now := time.Now()

	allowed, err := limiter.Allow(ctx, "comp-1", 1, now)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "comp-1", 1, now)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "comp-2", 1, now)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterNextMinuteBucketResets(t *testing.T) {
	limiter, _ := setupRedisLimiter(t)
	ctx := context.Background()
	now := time.Unix(1767000000, 0)

	allowed, err := limiter.Allow(ctx, "comp-1", 1, now)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "comp-1", 1, now)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "comp-1", 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterZeroLimitMeansUnlimited(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	allowed, err := limiter.Allow(context.Background(), "comp-1", 0, time.Now())
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterSQLFallback(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	limiter := NewRateLimiter(nil, jobs.NewStore(db))
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM email_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(29))
	allowed, err := limiter.Allow(ctx, "comp-1", 30, now)
	require.NoError(t, err)
	assert.True(t, allowed)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM email_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(30))
	allowed, err = limiter.Allow(ctx, "comp-1", 30, now)
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRateLimiterFromConfigWithoutAddr(t *testing.T) {
	limiter, err := NewRateLimiterFromConfig(config.RedisConfig{}, nil)
	require.NoError(t, err)

	allowed, err := limiter.Allow(context.Background(), "comp-1", 1, time.Now())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, limiter.Close())
}
