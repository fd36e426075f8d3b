package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] window key, ARGV[1] capacity, ARGV[2] expiry (unix ms).
const fixedWindowScript = `
local capacity = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= capacity then
  return {0, current}
end
current = redis.call("INCR", KEYS[1])
redis.call("PEXPIREAT", KEYS[1], ARGV[2])
return {1, current}
`

type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (s *RedisStore) Hit(ctx context.Context, key string, capacity int64, expireAt time.Time) (int64, bool, error) {
	if s == nil || s.client == nil {
		return 0, false, errors.New("rate limit store not configured")
	}
	if key == "" {
		return 0, false, errors.New("rate limit key is empty")
	}
	if capacity <= 0 {
		return 0, false, errors.New("rate limit capacity must be positive")
	}

	res, err := s.script.Run(ctx, s.client, []string{key}, capacity, expireAt.UnixMilli()).Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) < 2 {
		return 0, false, errors.New("invalid rate limit script response")
	}
	return parseCount(res[1]), parseCount(res[0]) == 1, nil
}
