package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/LADAN401/Elite-Degen/internal/logger"
)

// ErrRateLimited is returned when a user exceeds the scan rate
var ErrRateLimited = errors.New("rate limit exceeded")

const (
	prefixRateLimit = "ratelimit:"
)

// Atomic sliding window: drop old entries, count, add if below the limit
var slidingWindow = `
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])

	local count = redis.call('ZCARD', KEYS[1])

	if count < tonumber(ARGV[2]) then
		redis.call('ZADD', KEYS[1], ARGV[3], ARGV[5])
		redis.call('PEXPIRE', KEYS[1], ARGV[4])
		return 1
	else
		return 0
	end
`

// RateLimitConfig holds rate limit configuration
type RateLimitConfig struct {
	Limit  int           // Maximum number of requests
	Window time.Duration // Time window for the limit
}

// RateLimiter provides distributed sliding window rate limiting
type RateLimiter struct {
	client *Client
	cfg    RateLimitConfig
	log    logger.Logger
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, cfg RateLimitConfig, log logger.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		cfg:    cfg,
		log:    log.With(logger.F("component", "ratelimiter")),
		now:    time.Now,
	}
}

// Allow checks if an action under key is allowed
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := prefixRateLimit + key
	now := r.now().UnixMilli()
	windowStart := now - r.cfg.Window.Milliseconds()

	result, err := r.client.rdb.Eval(ctx, slidingWindow, []string{redisKey},
		windowStart,                   // ARGV[1]: window start timestamp
		r.cfg.Limit,                   // ARGV[2]: max limit
		now,                           // ARGV[3]: current timestamp
		r.cfg.Window.Milliseconds()*2, // ARGV[4]: key expiration (2x window)
		uuid.NewString(),              // ARGV[5]: unique member
	).Int64()
	if err != nil {
		r.log.Error("rate limit check failed",
			logger.F("error", err),
			logger.F("key", key),
		)
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := result == 1
	if !allowed {
		r.log.Debug("rate limit exceeded",
			logger.F("key", key),
			logger.F("limit", r.cfg.Limit),
			logger.F("window", r.cfg.Window),
		)
	}
	return allowed, nil
}

// AllowUser applies the limit to one Telegram user. It returns ErrRateLimited
// when the user is over the limit.
func (r *RateLimiter) AllowUser(ctx context.Context, userID int64) error {
	allowed, err := r.Allow(ctx, "scan:"+strconv.FormatInt(userID, 10))
	if err != nil {
		return err
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// Remaining returns how many more requests key may make in the current window
func (r *RateLimiter) Remaining(ctx context.Context, key string) (int64, error) {
	redisKey := prefixRateLimit + key
	windowStart := r.now().UnixMilli() - r.cfg.Window.Milliseconds()

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to get rate limit count: %w", err)
	}

	remaining := int64(r.cfg.Limit) - countCmd.Val()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset resets the rate limit for a key
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, prefixRateLimit+key)
}
