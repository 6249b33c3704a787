package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

// stores runs a subtest against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisStore(t)
		fn(t, s)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
}

func TestStore_PerClientLimit(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		limits := Limits{PerClientDaily: 3, GlobalDaily: 50}

		for i := 0; i < 3; i++ {
			d, err := s.CheckAndConsume(ctx, "1.2.3.4", "2025-10-01", limits)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "attempt %d", i+1)
		}

		d, err := s.CheckAndConsume(ctx, "1.2.3.4", "2025-10-01", limits)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonClient, d.Reason)

		// another client is unaffected
		d, err = s.CheckAndConsume(ctx, "5.6.7.8", "2025-10-01", limits)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestStore_GlobalLimitTakesPriority(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		limits := Limits{PerClientDaily: 1, GlobalDaily: 2}

		for _, client := range []string{"a", "b"} {
			d, err := s.CheckAndConsume(ctx, client, "2025-10-01", limits)
			require.NoError(t, err)
			require.True(t, d.Allowed)
		}

		// "a" is over both caps; the global reason wins
		d, err := s.CheckAndConsume(ctx, "a", "2025-10-01", limits)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonGlobal, d.Reason)

		d, err = s.CheckAndConsume(ctx, "c", "2025-10-01", limits)
		require.NoError(t, err)
		assert.Equal(t, ReasonGlobal, d.Reason)
	})
}

func TestStore_WindowReset(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		limits := Limits{PerClientDaily: 1, GlobalDaily: 1}

		d, err := s.CheckAndConsume(ctx, "a", "2025-10-01", limits)
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = s.CheckAndConsume(ctx, "b", "2025-10-01", limits)
		require.NoError(t, err)
		require.Equal(t, ReasonGlobal, d.Reason)

		// the next day starts from zero
		d, err = s.CheckAndConsume(ctx, "a", "2025-10-02", limits)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = s.CheckAndConsume(ctx, "b", "2025-10-02", limits)
		require.NoError(t, err)
		require.Equal(t, ReasonGlobal, d.Reason)
	})
}

func TestStore_WindowResetsOnEarlierDate(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		limits := Limits{PerClientDaily: 1, GlobalDaily: 5}

		d, err := s.CheckAndConsume(ctx, "a", "2025-10-02", limits)
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = s.CheckAndConsume(ctx, "a", "2025-10-02", limits)
		require.NoError(t, err)
		require.Equal(t, ReasonClient, d.Reason)

		// any other date, earlier ones included, starts from zero
		d, err = s.CheckAndConsume(ctx, "a", "2025-10-01", limits)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestStore_Release(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		limits := Limits{PerClientDaily: 1, GlobalDaily: 10}

		d, err := s.CheckAndConsume(ctx, "a", "2025-10-01", limits)
		require.NoError(t, err)
		require.True(t, d.Allowed)

		require.NoError(t, s.Release(ctx, "a", "2025-10-01"))

		d, err = s.CheckAndConsume(ctx, "a", "2025-10-01", limits)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		// releasing against a stale window leaves the new window alone
		d, err = s.CheckAndConsume(ctx, "a", "2025-10-02", limits)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.NoError(t, s.Release(ctx, "a", "2025-10-01"))

		d, err = s.CheckAndConsume(ctx, "a", "2025-10-02", limits)
		require.NoError(t, err)
		assert.Equal(t, ReasonClient, d.Reason)
	})
}

func TestStore_ConcurrentRequestsNeverExceedLimit(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		limits := Limits{PerClientDaily: 3, GlobalDaily: 50}

		const attempts = 20
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
			denied  int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := s.CheckAndConsume(ctx, "1.2.3.4", "2025-10-01", limits)
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				if d.Allowed {
					allowed++
				} else {
					assert.Equal(t, ReasonClient, d.Reason)
					denied++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 3, allowed)
		assert.Equal(t, attempts-3, denied)
	})
}

func TestRedisStore_SetsExpiry(t *testing.T) {
	s, mr := newRedisStore(t)

	_, err := s.CheckAndConsume(context.Background(), "a", "2025-10-01", Limits{PerClientDaily: 1, GlobalDaily: 1})
	require.NoError(t, err)

	assert.Equal(t, windowTTL, mr.TTL(defaultWindowKey))
	assert.Equal(t, "2025-10-01", mr.HGet(defaultWindowKey, "window"))
	assert.Equal(t, "1", mr.HGet(defaultWindowKey, "c:a"))
}

type brokenStore struct{}

func (brokenStore) CheckAndConsume(context.Context, string, string, Limits) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func (brokenStore) Release(context.Context, string, string) error {
	return errors.New("connection refused")
}

func TestLimiter_FailPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		policy      FailPolicy
		wantAllowed bool
		wantErr     error
	}{
		{name: "fail open allows degraded", policy: FailOpen, wantAllowed: true},
		{name: "fail closed rejects", policy: FailClosed, wantErr: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := NewLimiter(brokenStore{}, Limits{PerClientDaily: 3, GlobalDaily: 50}, tt.policy, time.UTC, nil)

			d, err := l.CheckAndConsume(context.Background(), "a", "2025-10-01")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.True(t, d.Degraded)

			// release failures are swallowed
			l.Release(context.Background(), "a", "2025-10-01")
		})
	}
}

func TestLimiter_FailOpenWhenRedisDown(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	l := NewLimiter(s, Limits{PerClientDaily: 3, GlobalDaily: 50}, FailOpen, time.UTC, nil)
	d, err := l.CheckAndConsume(context.Background(), "a", "2025-10-01")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Degraded)
}

func TestLimiter_WindowDateUsesFixedZone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	l := NewLimiter(NewMemoryStore(), Limits{PerClientDaily: 1, GlobalDaily: 1}, FailOpen, loc, nil)

	// 02:30 UTC on Oct 2 is still Oct 1 in New York
	ts := time.Date(2025, 10, 2, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-10-01", l.WindowDate(ts))
	assert.Equal(t, "2025-10-02", l.WindowDate(ts.Add(3*time.Hour)))
}

func TestParseFailPolicy(t *testing.T) {
	t.Parallel()
	assert.Equal(t, FailClosed, ParseFailPolicy("closed"))
	assert.Equal(t, FailOpen, ParseFailPolicy("open"))
	assert.Equal(t, FailOpen, ParseFailPolicy(""))
}
