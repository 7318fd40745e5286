// Package policy defines the violation taxonomy and the deterministic rule
// engine used as the first classification stage. Rule evaluation is
// synchronous, makes no external calls, and is safe for concurrent use.
package policy

// Severity is the tier of a detected violation. Higher values are more
// severe; the ordering is relied on by the enforcement state machine.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "none",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "none"
}

// ParseSeverity maps a severity string (as produced by AI providers) to a
// Severity. Unknown strings map to SeverityNone; callers that need the
// needs-review fallback handle that themselves.
func ParseSeverity(s string) (Severity, bool) {
	for sev, name := range severityNames {
		if name == s {
			return sev, true
		}
	}
	return SeverityNone, false
}

// Category identifies a class of policy violation.
type Category string

const (
	CategoryNone              Category = "none"
	CategoryChildExploitation Category = "child_exploitation"
	CategoryDrugSelling       Category = "drug_selling"
	CategoryWeaponSelling     Category = "weapon_selling"
	CategoryScamFraud         Category = "scam_fraud"
	CategoryPlatformAbuse     Category = "platform_abuse"
	CategoryAbusiveContent    Category = "abusive_content"
	CategorySpamAdvertising   Category = "spam_advertising"

	// CategoryUnclassified is assigned when a provider returns a category
	// outside the known taxonomy. Such verdicts carry the lowest violating
	// severity and are flagged for review rather than dropped.
	CategoryUnclassified Category = "unclassified"
)

// knownCategories is the closed taxonomy accepted from external classifiers.
var knownCategories = map[Category]bool{
	CategoryNone:              true,
	CategoryChildExploitation: true,
	CategoryDrugSelling:       true,
	CategoryWeaponSelling:     true,
	CategoryScamFraud:         true,
	CategoryPlatformAbuse:     true,
	CategoryAbusiveContent:    true,
	CategorySpamAdvertising:   true,
}

// KnownCategory reports whether c is part of the fixed taxonomy.
func KnownCategory(c Category) bool {
	return knownCategories[c]
}

// Source records which classification path actually produced a verdict.
type Source string

const (
	SourceRule       Source = "rule"
	SourceAIPrimary  Source = "ai-primary"
	SourceAIFallback Source = "ai-fallback"
	SourceCache      Source = "cache"
)

// Verdict is the result of classifying one message. It is immutable once
// produced; the cache returns copies with Source rewritten to SourceCache.
type Verdict struct {
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence"` // [0,1]
	Source      Source   `json:"source"`
	NeedsReview bool     `json:"needs_review,omitempty"`
}

// Violating reports whether the verdict describes an actual violation.
func (v Verdict) Violating() bool {
	return v.Severity > SeverityNone && v.Category != CategoryNone
}

// Clean is the verdict for a message with no detected violation.
func Clean(source Source) Verdict {
	return Verdict{Category: CategoryNone, Severity: SeverityNone, Source: source}
}
