package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/tabula/internal/metrics"
)

const redisKeyPrefix = "tabula:ratelimit:"

// fixedWindowScript opens a window on the first request (or once the key
// expired), increments while under budget and never increments a denied
// request. Returns {allowed, count, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
local window_ms = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local ttl = redis.call('PTTL', KEYS[1])

if count == 0 or ttl <= 0 then
	redis.call('SET', KEYS[1], 1, 'PX', window_ms)
	return {1, 1, window_ms}
end

if count < limit then
	count = redis.call('INCR', KEYS[1])
	return {1, count, ttl}
end

return {0, count, ttl}
`)

// RedisLimiter keeps fixed windows in Redis so several instances share
// one budget per client.
type RedisLimiter struct {
	client redis.UniversalClient
	owned  bool
	now    func() time.Time
}

// NewRedisLimiter uses an existing client. Close does not close it.
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

// NewRedisLimiterFromURL connects to redisURL and verifies the connection.
func NewRedisLimiterFromURL(ctx context.Context, redisURL string) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisLimiter{client: client, owned: true, now: time.Now}, nil
}

func (r *RedisLimiter) Check(ctx context.Context, key string, p Policy) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	vals, err := fixedWindowScript.Run(ctx, r.client, []string{redisKeyPrefix + key},
		p.Window.Milliseconds(), p.MaxRequests).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("rate limit check failed: unexpected reply %v", vals)
	}

	allowed, count := vals[0] == 1, int(vals[1])
	ttl := time.Duration(vals[2]) * time.Millisecond
	res := Result{
		Allowed: allowed,
		Limit:   p.MaxRequests,
		ResetAt: r.now().Add(ttl),
	}
	if allowed {
		res.Remaining = p.MaxRequests - count
		return res, nil
	}

	metrics.RateLimitRejections.WithLabelValues(p.Name).Inc()
	res.RetryAfter = ttl
	return res, nil
}

func (r *RedisLimiter) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
