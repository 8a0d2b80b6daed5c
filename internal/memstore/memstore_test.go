package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LADAN401/Elite-Degen/internal/redis"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

func TestScanCache(t *testing.T) {
	c := NewScanCache(time.Minute)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "base:0x1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	res := &models.ScanResult{Query: models.Query{Kind: models.QueryAddress, Value: "0x1"}}
	c.Set(ctx, "base:0x1", res)
	c.Set(ctx, "base:0x2", nil)

	got, ok := c.Get(ctx, "base:0x1")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Query.Value != "0x1" {
		t.Errorf("unexpected result %+v", got)
	}

	got.Cached = true
	again, _ := c.Get(ctx, "base:0x1")
	if again.Cached {
		t.Error("cached entry was mutated through a returned copy")
	}

	if _, ok := c.Get(ctx, "base:0x2"); ok {
		t.Error("nil result should not be cached")
	}
}

func TestScanCacheExpires(t *testing.T) {
	c := NewScanCache(20 * time.Millisecond)
	ctx := context.Background()

	c.Set(ctx, "k", &models.ScanResult{})
	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := th.AllowUser(ctx, 1); err != nil {
			t.Fatalf("scan %d: unexpected error %v", i+1, err)
		}
	}
	if err := th.AllowUser(ctx, 1); !errors.Is(err, redis.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}

	// other users have their own bucket
	if err := th.AllowUser(ctx, 2); err != nil {
		t.Errorf("expected user 2 allowed, got %v", err)
	}
}

func TestThrottleDefaults(t *testing.T) {
	th := NewThrottle(0, 0)
	if th.burst != 20 {
		t.Errorf("expected default burst 20, got %d", th.burst)
	}
}
