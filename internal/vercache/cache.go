// Package vercache provides the Redis-backed verdict cache keyed by content
// fingerprint. Entries expire via Redis TTL. The cache is an optimization,
// not a dependency: every Redis failure degrades to a miss so classification
// is never blocked or errored by cache availability.
package vercache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flushguard/engine/internal/policy"
)

const (
	// VerdictPrefix is the Redis key prefix for cached verdicts.
	VerdictPrefix = "verdict:"

	// DefaultTTL bounds how long a fingerprint's verdict is reusable.
	DefaultTTL = 1 * time.Hour
)

// Cache memoizes classification verdicts by content fingerprint.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a verdict cache with the given TTL. A non-positive TTL uses
// DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// short truncates a fingerprint for log lines.
func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}

// Lookup returns the cached verdict for a fingerprint. The verdict's Source
// is rewritten to cache so downstream consumers see the path actually taken.
// Any Redis or decode failure is reported as a miss.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (policy.Verdict, bool) {
	data, err := c.client.Get(ctx, VerdictPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return policy.Verdict{}, false
	}
	if err != nil {
		log.Printf("[vercache] GET %s: %v (treating as miss)", short(fingerprint), err)
		return policy.Verdict{}, false
	}

	var v policy.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		log.Printf("[vercache] decode %s: %v (treating as miss)", short(fingerprint), err)
		return policy.Verdict{}, false
	}

	v.Source = policy.SourceCache
	return v, true
}

// Store caches a verdict under a fingerprint for the configured TTL.
// Failures are logged and swallowed; a lost store only costs a future
// reclassification.
func (c *Cache) Store(ctx context.Context, fingerprint string, v policy.Verdict) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[vercache] encode %s: %v", short(fingerprint), err)
		return
	}
	if err := c.client.Set(ctx, VerdictPrefix+fingerprint, data, c.ttl).Err(); err != nil {
		log.Printf("[vercache] SET %s: %v (skipping store)", short(fingerprint), err)
	}
}

// Invalidate removes a cached verdict, e.g. after a rule set update.
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	return c.client.Del(ctx, VerdictPrefix+fingerprint).Err()
}
