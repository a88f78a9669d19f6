package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"opsflow/internal/ratelimit/models"
)

// slidingWindowScript trims the window, admits the request when there is room
// and returns {allowed, count, oldest_ms}. Running it as one script keeps the
// check and the insert atomic across replicas.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestMs = now
if #oldest > 0 then oldestMs = tonumber(oldest[2]) end
return {allowed, count, oldestMs}
`)

// Redis shares buckets between replicas. Scores are unix milliseconds.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return NewRedisWithClock(client, prefix, time.Now)
}

// NewRedisWithClock scores entries with now instead of the wall clock.
func NewRedisWithClock(client redis.UniversalClient, prefix string, now func() time.Time) *Redis {
	return &Redis{client: client, prefix: prefix, now: now}
}

func (s *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	nowMs := s.now().UnixMilli()
	windowMs := max(window.Milliseconds(), 1)
	raw, err := slidingWindowScript.Run(ctx, s.client, []string{s.prefix + key},
		nowMs, windowMs, limit, strconv.FormatInt(nowMs, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit script returned %d values", len(raw))
	}
	count := int(raw[1])
	res := &models.Result{
		Allowed: raw[0] == 1,
		Limit:   limit,
		ResetAt: time.UnixMilli(raw[2] + windowMs).UTC(),
	}
	if res.Allowed {
		res.Remaining = max(0, limit-count)
	}
	return res, nil
}

func (s *Redis) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
