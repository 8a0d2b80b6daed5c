package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

const (
	// scanCacheKeyPrefix is the prefix for scan cache keys
	scanCacheKeyPrefix = "scan:cache:"
	// defaultScanCacheTTL is the TTL for scan cache entries
	defaultScanCacheTTL = 30 * time.Second
)

// ScanCache caches scan results for a short time so repeated scans of a
// popular token do not hit the market data API
type ScanCache struct {
	client *Client
	log    logger.Logger
	ttl    time.Duration
}

// NewScanCache creates a new scan cache
func NewScanCache(client *Client, ttl time.Duration, log logger.Logger) *ScanCache {
	if ttl <= 0 {
		ttl = defaultScanCacheTTL
	}
	return &ScanCache{
		client: client,
		log:    log.With(logger.F("component", "scan-cache")),
		ttl:    ttl,
	}
}

// Set caches a scan result. Failures are logged, the cache is best effort.
func (c *ScanCache) Set(ctx context.Context, key string, result *models.ScanResult) {
	if result == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		c.log.Warn("failed to marshal scan result", logger.F("error", err))
		return
	}

	if err := c.client.Set(ctx, scanCacheKeyPrefix+key, data, c.ttl); err != nil {
		c.log.Warn("failed to cache scan result",
			logger.F("key", key),
			logger.F("error", err),
		)
		return
	}

	c.log.Debug("scan result cached",
		logger.F("key", key),
		logger.F("ttl", c.ttl),
	)
}

// Get returns a cached scan result
func (c *ScanCache) Get(ctx context.Context, key string) (*models.ScanResult, bool) {
	data, err := c.client.Get(ctx, scanCacheKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("failed to read scan cache",
				logger.F("key", key),
				logger.F("error", err),
			)
		}
		return nil, false
	}

	var result models.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.log.Warn("dropping unreadable scan cache entry",
			logger.F("key", key),
			logger.F("error", err),
		)
		_ = c.client.Del(ctx, scanCacheKeyPrefix+key)
		return nil, false
	}

	return &result, true
}
