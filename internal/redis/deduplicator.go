package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/LADAN401/Elite-Degen/internal/logger"
)

const (
	prefixAlertSent = "alert:sent:"

	defaultAlertTTL = 10 * time.Minute
)

// Deduplicator makes sure an alert for one (tx, owner, wallet) is delivered
// once, even when the feed repeats a transaction or several bot instances
// share a Redis.
type Deduplicator struct {
	client     *Client
	log        logger.Logger
	instanceID string
	ttl        time.Duration
}

// NewDeduplicator creates a new alert deduplicator
func NewDeduplicator(client *Client, ttl time.Duration, log logger.Logger) *Deduplicator {
	if ttl <= 0 {
		ttl = defaultAlertTTL
	}

	return &Deduplicator{
		client:     client,
		log:        log.With(logger.F("component", "deduplicator")),
		instanceID: uuid.New().String(),
		ttl:        ttl,
	}
}

// InstanceID returns the unique instance identifier
func (d *Deduplicator) InstanceID() string {
	return d.instanceID
}

// AlertKey builds the dedup key of one alert
func AlertKey(txHash string, owner int64, address string) string {
	sum := sha256.Sum256([]byte(txHash + "|" + strconv.FormatInt(owner, 10) + "|" + address))
	return prefixAlertSent + hex.EncodeToString(sum[:16])
}

// Claim marks the alert as being sent by this instance. It returns false when
// the alert was already claimed.
func (d *Deduplicator) Claim(ctx context.Context, txHash string, owner int64, address string) (bool, error) {
	key := AlertKey(txHash, owner, address)

	acquired, err := d.client.SetNX(ctx, key, d.instanceID, d.ttl)
	if err != nil {
		d.log.Error("failed to claim alert",
			logger.F("error", err),
			logger.F("tx", txHash),
		)
		return false, fmt.Errorf("failed to claim alert: %w", err)
	}

	if !acquired {
		d.log.Debug("alert already sent",
			logger.F("tx", txHash),
			logger.F("owner", owner),
		)
	}
	return acquired, nil
}

// Release drops a claim held by this instance so a repeated event may retry
// the delivery
func (d *Deduplicator) Release(ctx context.Context, txHash string, owner int64, address string) error {
	key := AlertKey(txHash, owner, address)

	// Only release if we own the claim
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	if err := d.client.rdb.Eval(ctx, script, []string{key}, d.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release alert claim: %w", err)
	}
	return nil
}
