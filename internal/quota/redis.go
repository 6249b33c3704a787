package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The whole window lives in one hash so a single script call can reset,
// check and increment it atomically:
//
//	window -> YYYY-MM-DD
//	global -> accepted creations in the window
//	c:<id> -> accepted creations for one client
//
// Any request whose date differs from the stored one starts a fresh window.
var consumeScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'window')
if stored ~= ARGV[1] then
  redis.call('DEL', KEYS[1])
  redis.call('HSET', KEYS[1], 'window', ARGV[1])
end
local global = tonumber(redis.call('HGET', KEYS[1], 'global') or '0')
if global >= tonumber(ARGV[4]) then
  return {0, 'global_limit'}
end
local client = tonumber(redis.call('HGET', KEYS[1], ARGV[2]) or '0')
if client >= tonumber(ARGV[3]) then
  return {0, 'ip_limit'}
end
redis.call('HINCRBY', KEYS[1], 'global', 1)
redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
redis.call('EXPIRE', KEYS[1], ARGV[5])
return {1, ''}
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'window') ~= ARGV[1] then
  return 0
end
local client = tonumber(redis.call('HGET', KEYS[1], ARGV[2]) or '0')
if client > 0 then
  redis.call('HINCRBY', KEYS[1], ARGV[2], -1)
end
local global = tonumber(redis.call('HGET', KEYS[1], 'global') or '0')
if global > 0 then
  redis.call('HINCRBY', KEYS[1], 'global', -1)
end
return 1
`)

const (
	defaultWindowKey = "quota:daily"
	windowTTL        = 48 * time.Hour
)

// RedisStore keeps the window in Redis, shared by every server instance.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore returns a store using the default window key.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, key: defaultWindowKey}
}

func clientField(clientID string) string {
	return "c:" + clientID
}

// CheckAndConsume runs the consume script.
func (s *RedisStore) CheckAndConsume(ctx context.Context, clientID, windowDate string, limits Limits) (Decision, error) {
	if s.rdb == nil {
		return Decision{}, errors.New("redis client is nil")
	}

	res, err := consumeScript.Run(ctx, s.rdb, []string{s.key},
		windowDate,
		clientField(clientID),
		limits.PerClientDaily,
		limits.GlobalDaily,
		int(windowTTL.Seconds()),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("quota script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("quota script: unexpected reply %v", res)
	}

	allowed, _ := res[0].(int64)
	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	reason, _ := res[1].(string)
	return Decision{Allowed: false, Reason: Reason(reason)}, nil
}

// Release runs the release script. A release for a window that already
// rolled over is a no-op.
func (s *RedisStore) Release(ctx context.Context, clientID, windowDate string) error {
	if s.rdb == nil {
		return errors.New("redis client is nil")
	}
	return releaseScript.Run(ctx, s.rdb, []string{s.key}, windowDate, clientField(clientID)).Err()
}
