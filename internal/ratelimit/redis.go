package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter only while it is under the ceiling, so the
// stored count never exceeds max. Returns {allowed, count, pttl}.
var fixedWindow = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if current >= max then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
    ttl = tonumber(ARGV[2])
  end
  return {0, current, ttl}
end
current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if current == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, current, ttl}
`)

// RedisLimiter shares fixed windows across instances through Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	policy Policy
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, p Policy) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		policy: p,
		prefix: "ratelimit:" + p.Name,
		now:    time.Now,
	}
}

// Allow fails open: when Redis is unreachable the request is allowed and the
// error returned for logging.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	res, err := fixedWindow.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		l.policy.Max, l.policy.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{Allowed: true, Limit: l.policy.Max, Remaining: l.policy.Max, ResetAt: now.Add(l.policy.Window)},
			fmt.Errorf("rate limit %s: %w", l.policy.Name, err)
	}
	if len(res) != 3 {
		return Decision{Allowed: true, Limit: l.policy.Max, ResetAt: now.Add(l.policy.Window)},
			fmt.Errorf("rate limit %s: unexpected script reply %v", l.policy.Name, res)
	}

	count := int(res[1])
	remaining := l.policy.Max - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   res[0] == 1,
		Limit:     l.policy.Max,
		Remaining: remaining,
		ResetAt:   now.Add(time.Duration(res[2]) * time.Millisecond),
	}, nil
}
