package vercache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flushguard/engine/internal/policy"
)

// newTestCache creates a Cache connected to a local Redis instance. Tests
// that call this helper require a running Redis on localhost:6379.
func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	iter := client.Scan(ctx, 0, VerdictPrefix+"test_*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, VerdictPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return New(client, ttl)
}

func TestLookup_Miss(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := context.Background()

	if _, ok := c.Lookup(ctx, "test_missing_fingerprint"); ok {
		t.Error("expected miss for unknown fingerprint")
	}
}

func TestStoreAndLookup(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := context.Background()

	want := policy.Verdict{
		Category:   policy.CategoryDrugSelling,
		Severity:   policy.SeverityHigh,
		Confidence: 0.9,
		Source:     policy.SourceAIPrimary,
	}
	c.Store(ctx, "test_fp_store", want)

	got, ok := c.Lookup(ctx, "test_fp_store")
	if !ok {
		t.Fatal("expected hit after store")
	}
	if got.Source != policy.SourceCache {
		t.Errorf("Source = %q, want %q", got.Source, policy.SourceCache)
	}
	if got.Category != want.Category || got.Severity != want.Severity || got.Confidence != want.Confidence {
		t.Errorf("verdict = %+v, want category/severity/confidence of %+v", got, want)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t, time.Second)
	ctx := context.Background()

	c.Store(ctx, "test_fp_ttl", policy.Clean(policy.SourceAIPrimary))
	if _, ok := c.Lookup(ctx, "test_fp_ttl"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(1500 * time.Millisecond)
	if _, ok := c.Lookup(ctx, "test_fp_ttl"); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestUnavailableRedisDegradesToMiss(t *testing.T) {
	// Point at a port nothing listens on; Lookup must miss, Store must not
	// panic, and neither may block beyond the context deadline.
	client := redis.NewClient(&redis.Options{Addr: "localhost:1", DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	c := New(client, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, ok := c.Lookup(ctx, "test_fp_down"); ok {
		t.Error("expected miss when redis is unreachable")
	}
	c.Store(ctx, "test_fp_down", policy.Clean(policy.SourceRule))
}
