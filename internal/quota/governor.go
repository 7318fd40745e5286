// Package quota implements the per-provider call budget that gates AI
// classification. Budgets are rolling-window counters in Redis so every
// engine and sweeper process shares one view of remaining capacity.
//
// Reservation is atomic: the INCR-and-check runs as a Lua script, so no two
// callers can both observe one remaining unit and proceed. Completed calls
// release their unit (leaky bucket), which keeps the counter tracking
// in-flight plus recent usage rather than a hard once-per-window count.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrExhausted reports that a single provider's budget is used up. The
// gateway recovers by routing to the other provider.
var ErrExhausted = errors.New("quota: provider budget exhausted")

// ReservePrefix is the Redis key prefix for provider reservation counters.
const ReservePrefix = "quota:"

// Budget defines one provider's rolling-window allowance.
type Budget struct {
	Provider string        // provider name, used as the counter key suffix
	Limit    int           // max reserved units inside the window
	Window   time.Duration // window length, set as TTL on first reservation
}

// DefaultBudgets mirrors the operational defaults: a generous primary budget
// and a smaller fallback budget so outage storms cannot drain both at once.
func DefaultBudgets() []Budget {
	return []Budget{
		{Provider: "primary", Limit: 100, Window: time.Hour},
		{Provider: "fallback", Limit: 40, Window: time.Hour},
	}
}

// reserveLua atomically increments the provider counter, sets the window TTL
// on first use, and rolls back the increment when the limit is exceeded.
// Returns 1 when the reservation is granted, 0 when denied.
const reserveLua = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local count = redis.call('INCR', key)
if count == 1 then
    redis.call('PEXPIRE', key, window_ms)
end
if count > limit then
    redis.call('DECR', key)
    return 0
end
return 1
`

// releaseLua decrements the provider counter without ever going negative: a
// release after window expiry would otherwise grant free capacity.
const releaseLua = `
local c = redis.call('GET', KEYS[1])
if c and tonumber(c) > 0 then
    return redis.call('DECR', KEYS[1])
end
return 0
`

// Governor tracks per-provider budgets in Redis.
type Governor struct {
	client  *redis.Client
	budgets map[string]Budget
	reserve *redis.Script
	release *redis.Script
}

// NewGovernor creates a Governor for the given budgets.
func NewGovernor(client *redis.Client, budgets []Budget) *Governor {
	m := make(map[string]Budget, len(budgets))
	for _, b := range budgets {
		m[b.Provider] = b
	}
	return &Governor{
		client:  client,
		budgets: m,
		reserve: redis.NewScript(reserveLua),
		release: redis.NewScript(releaseLua),
	}
}

// TryReserve attempts to take one unit of the provider's budget. It returns
// ErrExhausted when the budget is spent and an unknown-provider error for
// names without a configured budget.
//
// On Redis errors the primary provider fails open (AI availability is worth
// more than exact accounting during a Redis outage) while other providers
// fail closed, so a blind spot cannot drain the fallback budget unmetered.
func (g *Governor) TryReserve(ctx context.Context, provider string) error {
	b, ok := g.budgets[provider]
	if !ok {
		return fmt.Errorf("quota: unknown provider %q", provider)
	}

	granted, err := g.reserve.Run(ctx, g.client, []string{ReservePrefix + provider},
		b.Limit, b.Window.Milliseconds()).Int()
	if err != nil {
		if provider == "primary" {
			log.Printf("[quota] reserve %s: %v (failing open)", provider, err)
			return nil
		}
		log.Printf("[quota] reserve %s: %v (failing closed)", provider, err)
		return ErrExhausted
	}
	if granted == 0 {
		return ErrExhausted
	}
	return nil
}

// Release returns one unit after a call completes, success or failure.
// A timed-out or failed call therefore does not permanently consume budget.
func (g *Governor) Release(ctx context.Context, provider string) {
	if err := g.release.Run(ctx, g.client, []string{ReservePrefix + provider}).Err(); err != nil {
		log.Printf("[quota] release %s: %v", provider, err)
	}
}

// Usage returns the currently reserved units and the limit for a provider.
// Unknown providers and Redis errors report zero usage.
func (g *Governor) Usage(ctx context.Context, provider string) (used, limit int) {
	b, ok := g.budgets[provider]
	if !ok {
		return 0, 0
	}
	count, err := g.client.Get(ctx, ReservePrefix+provider).Int()
	if errors.Is(err, redis.Nil) {
		return 0, b.Limit
	}
	if err != nil {
		log.Printf("[quota] usage %s: %v", provider, err)
		return 0, b.Limit
	}
	return count, b.Limit
}

// UnderPressure reports whether the provider's window usage is at or above
// the given fraction of its limit. The batch sweep uses this to back off
// entirely while live traffic needs the capacity.
func (g *Governor) UnderPressure(ctx context.Context, provider string, fraction float64) bool {
	used, limit := g.Usage(ctx, provider)
	if limit == 0 {
		return true
	}
	return float64(used) >= fraction*float64(limit)
}
