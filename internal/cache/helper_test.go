package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"everyday/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests swap the package client and must not run in parallel.

func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() {
		SetClient(nil)
		mr.Close()
	})
	return mr
}

func TestAside_MissThenHit(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()
	key := PostsListKey(models.PostKindDaily, "7")

	calls := 0
	fetch := func(dest *[]string) func() error {
		return func() error {
			calls++
			*dest = []string{"a", "b"}
			return nil
		}
	}

	var first []string
	require.NoError(t, Aside(ctx, key, &first, time.Minute, fetch(&first)))
	assert.Equal(t, []string{"a", "b"}, first)
	assert.True(t, mr.Exists(key))

	var second []string
	require.NoError(t, Aside(ctx, key, &second, time.Minute, fetch(&second)))
	assert.Equal(t, []string{"a", "b"}, second)
	assert.Equal(t, 1, calls)
}

func TestAside_FetchErrorIsNotCached(t *testing.T) {
	mr := useMiniredis(t)
	boom := errors.New("store down")

	var dest []string
	err := Aside(context.Background(), "k", &dest, time.Minute, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"))
}

func TestAside_WithoutRedis(t *testing.T) {
	SetClient(nil)

	var dest string
	require.NoError(t, Aside(context.Background(), "k", &dest, time.Minute, func() error {
		dest = "fresh"
		return nil
	}))
	assert.Equal(t, "fresh", dest)
}

func TestAside_RedisDownFallsBackToSource(t *testing.T) {
	mr := useMiniredis(t)
	mr.Close()

	var dest string
	require.NoError(t, Aside(context.Background(), "k", &dest, time.Minute, func() error {
		dest = "fresh"
		return nil
	}))
	assert.Equal(t, "fresh", dest)
}
