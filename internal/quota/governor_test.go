package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestGovernor(t *testing.T, budgets []Budget) *Governor {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	for _, b := range budgets {
		client.Del(ctx, ReservePrefix+b.Provider)
	}
	t.Cleanup(func() {
		for _, b := range budgets {
			client.Del(context.Background(), ReservePrefix+b.Provider)
		}
		client.Close()
	})
	return NewGovernor(client, budgets)
}

func TestTryReserveWithinLimit(t *testing.T) {
	g := newTestGovernor(t, []Budget{
		{Provider: "test_primary", Limit: 3, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.TryReserve(ctx, "test_primary"); err != nil {
			t.Fatalf("reserve %d: %v", i+1, err)
		}
	}
	if err := g.TryReserve(ctx, "test_primary"); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted after limit, got %v", err)
	}
}

func TestReleaseRestoresCapacity(t *testing.T) {
	g := newTestGovernor(t, []Budget{
		{Provider: "test_rel", Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	if err := g.TryReserve(ctx, "test_rel"); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := g.TryReserve(ctx, "test_rel"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	g.Release(ctx, "test_rel")

	if err := g.TryReserve(ctx, "test_rel"); err != nil {
		t.Errorf("reserve after release: %v", err)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	g := newTestGovernor(t, []Budget{
		{Provider: "test_neg", Limit: 2, Window: time.Minute},
	})
	ctx := context.Background()

	// Releases with nothing reserved must not create phantom capacity.
	g.Release(ctx, "test_neg")
	g.Release(ctx, "test_neg")

	used, limit := g.Usage(ctx, "test_neg")
	if used != 0 || limit != 2 {
		t.Errorf("usage = %d/%d, want 0/2", used, limit)
	}
}

func TestWindowExpiry(t *testing.T) {
	g := newTestGovernor(t, []Budget{
		{Provider: "test_exp", Limit: 1, Window: time.Second},
	})
	ctx := context.Background()

	if err := g.TryReserve(ctx, "test_exp"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := g.TryReserve(ctx, "test_exp"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if err := g.TryReserve(ctx, "test_exp"); err != nil {
		t.Errorf("reserve after window expiry: %v", err)
	}
}

func TestUnknownProvider(t *testing.T) {
	g := newTestGovernor(t, []Budget{
		{Provider: "test_known", Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	err := g.TryReserve(ctx, "nonexistent")
	if err == nil || errors.Is(err, ErrExhausted) {
		t.Errorf("expected distinct unknown-provider error, got %v", err)
	}
}

func TestUsageAndPressure(t *testing.T) {
	g := newTestGovernor(t, []Budget{
		{Provider: "test_usage", Limit: 4, Window: time.Minute},
	})
	ctx := context.Background()

	used, limit := g.Usage(ctx, "test_usage")
	if used != 0 || limit != 4 {
		t.Fatalf("initial usage = %d/%d, want 0/4", used, limit)
	}
	if g.UnderPressure(ctx, "test_usage", 0.75) {
		t.Error("empty budget reported under pressure")
	}

	for i := 0; i < 3; i++ {
		if err := g.TryReserve(ctx, "test_usage"); err != nil {
			t.Fatalf("reserve %d: %v", i+1, err)
		}
	}

	used, _ = g.Usage(ctx, "test_usage")
	if used != 3 {
		t.Errorf("usage = %d, want 3", used)
	}
	if !g.UnderPressure(ctx, "test_usage", 0.75) {
		t.Error("3/4 usage not reported under pressure at 0.75")
	}
}

func TestPrimaryFailsOpenOnRedisError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()
	g := NewGovernor(client, []Budget{
		{Provider: "primary", Limit: 1, Window: time.Minute},
		{Provider: "fallback", Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	if err := g.TryReserve(ctx, "primary"); err != nil {
		t.Errorf("primary should fail open on redis error, got %v", err)
	}
	if err := g.TryReserve(ctx, "fallback"); !errors.Is(err, ErrExhausted) {
		t.Errorf("fallback should fail closed on redis error, got %v", err)
	}
}
