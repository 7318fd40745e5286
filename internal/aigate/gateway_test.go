package aigate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flushguard/engine/internal/policy"
	"github.com/flushguard/engine/internal/quota"
)

type fakeProvider struct {
	name    string
	verdict policy.Verdict
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Classify(ctx context.Context, text string) (policy.Verdict, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return policy.Verdict{}, ctx.Err()
		}
	}
	if f.err != nil {
		return policy.Verdict{}, f.err
	}
	return f.verdict, nil
}

type fakeGovernor struct {
	exhausted map[string]bool
	reserved  []string
	released  []string
}

func (f *fakeGovernor) TryReserve(ctx context.Context, provider string) error {
	if f.exhausted[provider] {
		return quota.ErrExhausted
	}
	f.reserved = append(f.reserved, provider)
	return nil
}

func (f *fakeGovernor) Release(ctx context.Context, provider string) {
	f.released = append(f.released, provider)
}

func TestClassifyPrimarySuccess(t *testing.T) {
	primary := &fakeProvider{name: "primary", verdict: policy.Verdict{
		Category:   policy.CategoryDrugSelling,
		Severity:   policy.SeverityHigh,
		Confidence: 0.92,
	}}
	fallback := &fakeProvider{name: "fallback"}
	gov := &fakeGovernor{exhausted: map[string]bool{}}
	g := NewGateway(primary, fallback, gov, time.Second)

	v, err := g.Classify(context.Background(), "buy drugs here")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Source != policy.SourceAIPrimary {
		t.Errorf("source = %q, want %q", v.Source, policy.SourceAIPrimary)
	}
	if v.Category != policy.CategoryDrugSelling {
		t.Errorf("category = %q, want drug_selling", v.Category)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls)
	}
	if len(gov.released) != 1 || gov.released[0] != "primary" {
		t.Errorf("released = %v, want [primary]", gov.released)
	}
}

func TestClassifyFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("upstream 500")}
	fallback := &fakeProvider{name: "fallback", verdict: policy.Verdict{
		Category:   policy.CategoryScamFraud,
		Severity:   policy.SeverityHigh,
		Confidence: 0.8,
	}}
	gov := &fakeGovernor{exhausted: map[string]bool{}}
	g := NewGateway(primary, fallback, gov, time.Second)

	v, err := g.Classify(context.Background(), "send me your seed phrase")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Source != policy.SourceAIFallback {
		t.Errorf("source = %q, want %q", v.Source, policy.SourceAIFallback)
	}
	if len(gov.released) != 2 {
		t.Errorf("released = %v, want both providers released", gov.released)
	}
}

func TestClassifySkipsExhaustedPrimary(t *testing.T) {
	primary := &fakeProvider{name: "primary", verdict: policy.Clean("")}
	fallback := &fakeProvider{name: "fallback", verdict: policy.Clean("")}
	gov := &fakeGovernor{exhausted: map[string]bool{"primary": true}}
	g := NewGateway(primary, fallback, gov, time.Second)

	v, err := g.Classify(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if primary.calls != 0 {
		t.Errorf("primary called %d times despite exhausted budget", primary.calls)
	}
	if v.Source != policy.SourceAIFallback {
		t.Errorf("source = %q, want %q", v.Source, policy.SourceAIFallback)
	}
}

func TestClassifyUnavailableWhenBothFail(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("down")}
	fallback := &fakeProvider{name: "fallback", err: errors.New("also down")}
	gov := &fakeGovernor{exhausted: map[string]bool{}}
	g := NewGateway(primary, fallback, gov, time.Second)

	_, err := g.Classify(context.Background(), "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClassifyTimesOutSlowProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", delay: 500 * time.Millisecond,
		verdict: policy.Clean("")}
	fallback := &fakeProvider{name: "fallback", verdict: policy.Verdict{
		Category:   policy.CategorySpamAdvertising,
		Severity:   policy.SeverityLow,
		Confidence: 0.6,
	}}
	gov := &fakeGovernor{exhausted: map[string]bool{}}
	g := NewGateway(primary, fallback, gov, 50*time.Millisecond)

	v, err := g.Classify(context.Background(), "JOIN NOW limited offer")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Source != policy.SourceAIFallback {
		t.Errorf("source = %q, want fallback after primary timeout", v.Source)
	}
}

func TestClassifyNilFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("down")}
	gov := &fakeGovernor{exhausted: map[string]bool{}}
	g := NewGateway(primary, nil, gov, time.Second)

	_, err := g.Classify(context.Background(), "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable with nil fallback, got %v", err)
	}
}

func TestSanitizeUnknownCategory(t *testing.T) {
	primary := &fakeProvider{name: "primary", verdict: policy.Verdict{
		Category:   "gibberish_label",
		Severity:   policy.SeverityCritical,
		Confidence: 0.99,
	}}
	gov := &fakeGovernor{exhausted: map[string]bool{}}
	g := NewGateway(primary, nil, gov, time.Second)

	v, err := g.Classify(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Category != policy.CategoryUnclassified {
		t.Errorf("category = %q, want unclassified", v.Category)
	}
	if v.Severity != policy.SeverityLow {
		t.Errorf("severity = %v, want low", v.Severity)
	}
	if !v.NeedsReview {
		t.Error("unknown category verdict not flagged for review")
	}
}

func TestSanitizeClampsConfidence(t *testing.T) {
	primary := &fakeProvider{name: "primary", verdict: policy.Verdict{
		Category:   policy.CategoryScamFraud,
		Severity:   policy.SeverityHigh,
		Confidence: 1.7,
	}}
	gov := &fakeGovernor{exhausted: map[string]bool{}}
	g := NewGateway(primary, nil, gov, time.Second)

	v, err := g.Classify(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", v.Confidence)
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCat  policy.Category
		wantSev  policy.Severity
		wantErr  bool
		wantRev  bool
	}{
		{
			name:    "plain json",
			raw:     `{"category": "drug_selling", "severity": "high", "confidence": 0.9}`,
			wantCat: policy.CategoryDrugSelling,
			wantSev: policy.SeverityHigh,
		},
		{
			name:    "fenced json",
			raw:     "```json\n{\"category\": \"none\", \"severity\": \"none\", \"confidence\": 0.2}\n```",
			wantCat: policy.CategoryNone,
			wantSev: policy.SeverityNone,
		},
		{
			name:    "unknown severity downgrades",
			raw:     `{"category": "scam_fraud", "severity": "massive", "confidence": 0.9}`,
			wantCat: policy.CategoryScamFraud,
			wantSev: policy.SeverityLow,
			wantRev: true,
		},
		{
			name:    "not json",
			raw:     "I think this message is fine.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdict(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVerdict: %v", err)
			}
			if v.Category != tt.wantCat {
				t.Errorf("category = %q, want %q", v.Category, tt.wantCat)
			}
			if v.Severity != tt.wantSev {
				t.Errorf("severity = %v, want %v", v.Severity, tt.wantSev)
			}
			if v.NeedsReview != tt.wantRev {
				t.Errorf("needsReview = %v, want %v", v.NeedsReview, tt.wantRev)
			}
		})
	}
}
