// Package aigate routes ambiguous messages to external AI classifiers.
// A primary provider handles normal traffic; a fallback provider takes over
// when the primary is out of budget, times out, or errors. Both providers
// are metered by the quota governor and every call is bounded by a deadline
// so a slow upstream cannot stall the moderation pipeline.
package aigate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/flushguard/engine/internal/policy"
	"github.com/flushguard/engine/internal/quota"
)

// ErrUnavailable reports that neither provider produced a verdict. Callers
// fall back to a conservative verdict rather than blocking the message.
var ErrUnavailable = errors.New("aigate: no classifier available")

// DefaultCallTimeout bounds a single provider call.
const DefaultCallTimeout = 8 * time.Second

// Provider is a single AI classification backend.
type Provider interface {
	// Name identifies the provider for quota accounting and logs.
	Name() string
	// Classify returns a verdict for the given message text.
	Classify(ctx context.Context, text string) (policy.Verdict, error)
}

// Governor is the budget gate consulted before each provider call.
type Governor interface {
	TryReserve(ctx context.Context, provider string) error
	Release(ctx context.Context, provider string)
}

// Gateway dispatches classification requests across providers.
type Gateway struct {
	primary  Provider
	fallback Provider
	governor Governor
	timeout  time.Duration
}

// NewGateway builds a Gateway. fallback may be nil when only one provider
// is configured.
func NewGateway(primary, fallback Provider, governor Governor, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Gateway{
		primary:  primary,
		fallback: fallback,
		governor: governor,
		timeout:  timeout,
	}
}

// Classify runs the message through the primary provider, then the fallback.
// A provider is skipped when its budget is exhausted. Returns ErrUnavailable
// when no provider yields a usable verdict.
func (g *Gateway) Classify(ctx context.Context, text string) (policy.Verdict, error) {
	providers := []struct {
		p      Provider
		source policy.Source
	}{
		{g.primary, policy.SourceAIPrimary},
		{g.fallback, policy.SourceAIFallback},
	}

	var lastErr error
	for _, entry := range providers {
		if entry.p == nil {
			continue
		}
		v, err := g.classifyWith(ctx, entry.p, text)
		if err != nil {
			lastErr = err
			if !errors.Is(err, quota.ErrExhausted) {
				log.Printf("[aigate] %s classify: %v", entry.p.Name(), err)
			}
			continue
		}
		v.Source = entry.source
		return sanitize(v), nil
	}

	if lastErr != nil {
		return policy.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}
	return policy.Verdict{}, ErrUnavailable
}

func (g *Gateway) classifyWith(ctx context.Context, p Provider, text string) (policy.Verdict, error) {
	if err := g.governor.TryReserve(ctx, p.Name()); err != nil {
		return policy.Verdict{}, err
	}
	defer g.governor.Release(ctx, p.Name())

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	return p.Classify(callCtx, text)
}

// sanitize normalizes a provider verdict so downstream logic only ever sees
// known categories and severities. Unknown categories are kept as violations
// but downgraded and flagged for human review.
func sanitize(v policy.Verdict) policy.Verdict {
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	if v.Category == policy.CategoryNone || v.Category == "" {
		v.Category = policy.CategoryNone
		v.Severity = policy.SeverityNone
		return v
	}
	if !policy.KnownCategory(v.Category) {
		v.Category = policy.CategoryUnclassified
		v.Severity = policy.SeverityLow
		v.NeedsReview = true
	}
	return v
}
