// Package memstore holds the in-process scan cache and scan throttle used
// when Redis is not configured.
package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/LADAN401/Elite-Degen/internal/redis"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

const defaultScanCacheTTL = 30 * time.Second

// ScanCache keeps scan results in memory for a short time
type ScanCache struct {
	items *cache.Cache
}

// NewScanCache creates a new in-memory scan cache
func NewScanCache(ttl time.Duration) *ScanCache {
	if ttl <= 0 {
		ttl = defaultScanCacheTTL
	}
	return &ScanCache{items: cache.New(ttl, 2*ttl)}
}

// Set caches a copy of result
func (c *ScanCache) Set(ctx context.Context, key string, result *models.ScanResult) {
	if result == nil {
		return
	}
	stored := *result
	c.items.SetDefault(key, stored)
}

// Get returns a copy of the cached result
func (c *ScanCache) Get(ctx context.Context, key string) (*models.ScanResult, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	result := v.(models.ScanResult)
	return &result, true
}

// Throttle is a per-user token bucket. Users idle for longer than the
// window are forgotten.
type Throttle struct {
	mu       sync.Mutex
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
}

// NewThrottle allows max scans per window for each user, refilled evenly
func NewThrottle(max int, window time.Duration) *Throttle {
	if max <= 0 {
		max = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Throttle{
		limiters: cache.New(window, 2*window),
		limit:    rate.Every(window / time.Duration(max)),
		burst:    max,
	}
}

// AllowUser returns redis.ErrRateLimited when userID is over the limit, the
// same contract as the Redis rate limiter.
func (t *Throttle) AllowUser(ctx context.Context, userID int64) error {
	key := strconv.FormatInt(userID, 10)

	t.mu.Lock()
	var limiter *rate.Limiter
	if v, ok := t.limiters.Get(key); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(t.limit, t.burst)
	}
	// touch so active users are not evicted
	t.limiters.SetDefault(key, limiter)
	t.mu.Unlock()

	if !limiter.Allow() {
		return redis.ErrRateLimited
	}
	return nil
}
