package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"

	"github.com/LADAN401/Elite-Degen/internal/config"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), config.RedisConfig{
		Host:         mr.Addr(),
		PoolSize:     2,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestBuildRedisAddr(t *testing.T) {
	tests := []struct {
		host     string
		port     int
		expected string
	}{
		{"localhost", 6379, "localhost:6379"},
		{"redis.internal:6380", 6379, "redis.internal:6380"},
	}

	for _, tt := range tests {
		if got := buildRedisAddr(tt.host, tt.port); got != tt.expected {
			t.Errorf("buildRedisAddr(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.expected)
		}
	}
}

func TestNewClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), config.RedisConfig{Host: addr, DialTimeout: 200 * time.Millisecond}, logger.NewNop())
	if err == nil {
		t.Fatal("expected connection error")
	}
}

func TestClientHealth(t *testing.T) {
	client, _ := newTestClient(t)

	health := client.Health(context.Background())
	if health["status"] != "up" {
		t.Errorf("expected status up, got %v", health)
	}
}

func TestDeduplicatorClaim(t *testing.T) {
	client, mr := newTestClient(t)
	dedup := NewDeduplicator(client, time.Minute, logger.NewNop())
	ctx := context.Background()

	ok, err := dedup.Claim(ctx, "0xhash", 1, "0xwallet")
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, got %v %v", ok, err)
	}

	ok, err = dedup.Claim(ctx, "0xhash", 1, "0xwallet")
	if err != nil || ok {
		t.Fatalf("expected duplicate claim to be rejected, got %v %v", ok, err)
	}

	// a different owner for the same tx is a different alert
	ok, err = dedup.Claim(ctx, "0xhash", 2, "0xwallet")
	if err != nil || !ok {
		t.Fatalf("expected claim for other owner, got %v %v", ok, err)
	}

	mr.FastForward(2 * time.Minute)
	ok, err = dedup.Claim(ctx, "0xhash", 1, "0xwallet")
	if err != nil || !ok {
		t.Fatalf("expected claim after ttl, got %v %v", ok, err)
	}
}

func TestDeduplicatorRelease(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	a := NewDeduplicator(client, time.Minute, logger.NewNop())
	b := NewDeduplicator(client, time.Minute, logger.NewNop())

	if a.InstanceID() == b.InstanceID() {
		t.Fatal("instances should have distinct ids")
	}

	if ok, _ := a.Claim(ctx, "0xhash", 1, "0xwallet"); !ok {
		t.Fatal("expected claim")
	}

	// b does not own the claim, releasing is a no-op
	if err := b.Release(ctx, "0xhash", 1, "0xwallet"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mr.Exists(AlertKey("0xhash", 1, "0xwallet")) {
		t.Fatal("claim released by a non-owner")
	}

	if err := a.Release(ctx, "0xhash", 1, "0xwallet"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := b.Claim(ctx, "0xhash", 1, "0xwallet"); !ok {
		t.Error("expected claim after release")
	}
}

func TestAlertKey(t *testing.T) {
	k1 := AlertKey("0x1", 1, "0xa")
	k2 := AlertKey("0x1", 1, "0xa")
	k3 := AlertKey("0x1", 2, "0xa")

	if k1 != k2 {
		t.Error("same alert should produce the same key")
	}
	if k1 == k3 {
		t.Error("different owners should produce different keys")
	}
	if len(k1) != len(prefixAlertSent)+32 {
		t.Errorf("unexpected key length %d", len(k1))
	}
}

func TestRateLimiter(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client, RateLimitConfig{Limit: 3, Window: time.Minute}, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.AllowUser(ctx, 42); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}
	if err := limiter.AllowUser(ctx, 42); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// other users are unaffected
	if err := limiter.AllowUser(ctx, 43); err != nil {
		t.Errorf("unexpected error for other user: %v", err)
	}

	remaining, err := limiter.Remaining(ctx, "scan:42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}

	if err := limiter.Reset(ctx, "scan:42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := limiter.AllowUser(ctx, 42); err != nil {
		t.Errorf("expected allowed after reset, got %v", err)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client, RateLimitConfig{Limit: 1, Window: time.Minute}, logger.NewNop())
	ctx := context.Background()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	if ok, _ := limiter.Allow(ctx, "k"); !ok {
		t.Fatal("expected first request allowed")
	}
	if ok, _ := limiter.Allow(ctx, "k"); ok {
		t.Fatal("expected second request limited")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := limiter.Allow(ctx, "k"); !ok {
		t.Error("expected request allowed after the window moved")
	}
}

func TestScanCache(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewScanCache(client, 30*time.Second, logger.NewNop())
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "address:base:0x1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	result := &models.ScanResult{
		Query: models.Query{Kind: models.QueryAddress, Value: "0x1", Chain: "base"},
		Pair: models.Pair{
			ChainID:   "base",
			PriceUSD:  decimal.RequireFromString("0.00001234"),
			Liquidity: models.Liquidity{USD: 1234.5},
			Missing:   []string{"fdv"},
		},
		Paid:      models.PaidStatus{State: models.PaidStatePaid, At: time.Unix(1700000000, 0).UTC()},
		FetchedAt: time.Unix(1700000100, 0).UTC(),
	}
	cache.Set(ctx, "address:base:0x1", result)

	got, ok := cache.Get(ctx, "address:base:0x1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !got.Pair.PriceUSD.Equal(result.Pair.PriceUSD) || got.Pair.Liquidity.USD != 1234.5 {
		t.Errorf("unexpected cached pair: %+v", got.Pair)
	}
	if got.Paid.State != models.PaidStatePaid || !got.Pair.IsMissing("fdv") {
		t.Errorf("unexpected cached result: %+v", got)
	}

	mr.FastForward(31 * time.Second)
	if _, ok := cache.Get(ctx, "address:base:0x1"); ok {
		t.Error("expected entry to expire")
	}
}

func TestScanCacheCorruptEntry(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewScanCache(client, time.Minute, logger.NewNop())

	if err := mr.Set(scanCacheKeyPrefix+"bad", "{not json"); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
	if _, ok := cache.Get(context.Background(), "bad"); ok {
		t.Fatal("expected miss for corrupt entry")
	}
	if mr.Exists(scanCacheKeyPrefix + "bad") {
		t.Error("expected corrupt entry to be deleted")
	}
}
