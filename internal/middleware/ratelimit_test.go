package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"everyday/internal/quota"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		allowed, err := CheckRateLimit(ctx, rdb, "visits", "1.2.3.4", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "hit %d", i)
	}

	allowed, err := CheckRateLimit(ctx, rdb, "visits", "1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, mr.TTL("rl:visits:1.2.3.4"))

	// window expiry resets the counter
	mr.FastForward(time.Minute + time.Second)
	allowed, err = CheckRateLimit(ctx, rdb, "visits", "1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	_, err = CheckRateLimit(ctx, nil, "visits", "1.2.3.4", 2, time.Minute)
	assert.Error(t, err)
}

func TestRateLimitWithPolicy(t *testing.T) {
	tests := []struct {
		name       string
		redisUp    bool
		policy     quota.FailPolicy
		hits       int
		wantStatus int
	}{
		{name: "under limit", redisUp: true, policy: quota.FailOpen, hits: 1, wantStatus: http.StatusOK},
		{name: "over limit", redisUp: true, policy: quota.FailOpen, hits: 3, wantStatus: http.StatusTooManyRequests},
		{name: "redis down fail open", policy: quota.FailOpen, hits: 3, wantStatus: http.StatusOK},
		{name: "redis down fail closed", policy: quota.FailClosed, hits: 1, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rdb *redis.Client
			if tt.redisUp {
				mr, err := miniredis.Run()
				require.NoError(t, err)
				defer mr.Close()
				rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
			}

			app := fiber.New()
			app.Use(ClientIdentity())
			app.Post("/api/visits", RateLimitWithPolicy(rdb, 2, time.Minute, tt.policy, "visits"), func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})

			var status int
			for i := 0; i < tt.hits; i++ {
				req := httptest.NewRequest(http.MethodPost, "/api/visits", nil)
				req.Header.Set("X-Forwarded-For", "9.9.9.9")
				resp, err := app.Test(req)
				require.NoError(t, err)
				status = resp.StatusCode
			}
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}
