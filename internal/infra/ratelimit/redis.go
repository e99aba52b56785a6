package ratelimit

import (
	"context"
	"errors"
	"time"

	"credledger/internal/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "credledger:ratelimit:"

// RedisLimiter shares fixed-window counters across daemon instances.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Now      func() time.Time
}

func NewRedisLimiter(cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisLimiter{client: client, now: cfg.Now}, nil
}

func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, period time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	millis := period.Milliseconds()
	if millis <= 0 {
		millis = 1000
	}
	result, err := allowScript.Run(ctx, r.client, []string{redisKeyPrefix + key}, millis).Result()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	return decodeRedisDecision(result, limit, r.now())
}

func decodeRedisDecision(result any, limit int, now time.Time) (domain.RateLimitDecision, error) {
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return domain.RateLimitDecision{}, errors.New("unexpected redis rate limit response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return domain.RateLimitDecision{}, errors.New("invalid redis counter response")
	}
	resetAt := now
	if ttl, _ := values[1].(int64); ttl > 0 {
		resetAt = now.Add(time.Duration(ttl) * time.Millisecond)
	}
	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
