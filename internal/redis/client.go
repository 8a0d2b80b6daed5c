package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LADAN401/Elite-Degen/internal/config"
	"github.com/LADAN401/Elite-Degen/internal/logger"
)

// Client wraps the Redis client with additional functionality
type Client struct {
	rdb *redis.Client
	log logger.Logger
}

// buildRedisAddr constructs Redis address from host and port.
// If host already contains a port (e.g., "host:port"), use it as-is.
func buildRedisAddr(host string, port int) string {
	if strings.Contains(host, ":") {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// NewClient creates a new Redis client and checks the connection
func NewClient(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*Client, error) {
	addr := buildRedisAddr(cfg.Host, cfg.Port)

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	client := &Client{
		rdb: rdb,
		log: log.With(logger.F("component", "redis")),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	client.log.Info("redis connected successfully",
		logger.F("addr", addr),
		logger.F("db", cfg.DB),
	)

	return client, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	c.log.Info("closing redis connection")
	return c.rdb.Close()
}

// Ping checks if Redis is available
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Set sets a key-value pair with optional expiration
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.rdb.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.rdb.Get(ctx, key).Bytes()
}

// Del deletes one or more keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// SetNX sets a key only if it doesn't exist
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, expiration).Result()
}

// Health returns the health status of Redis
func (c *Client) Health(ctx context.Context) map[string]interface{} {
	health := map[string]interface{}{
		"status": "up",
	}

	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		health["status"] = "down"
		health["error"] = err.Error()
		return health
	}
	health["latency_ms"] = time.Since(start).Milliseconds()

	stats := c.rdb.PoolStats()
	health["total_conns"] = stats.TotalConns
	health["idle_conns"] = stats.IdleConns
	return health
}
