package aigate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flushguard/engine/internal/policy"
)

// systemInstruction is shared by all providers so verdicts stay comparable
// regardless of which backend produced them.
const systemInstruction = `You are a content moderation classifier for group messaging. ` +
	`You receive one message and classify it against a fixed policy taxonomy. ` +
	`Respond only with valid JSON, no markdown, no prose.`

// buildPrompt renders the classification request for a message.
func buildPrompt(text string) string {
	return fmt.Sprintf(`Classify the following message for policy violations.

MESSAGE: %q

CATEGORIES:
- child_exploitation: child abuse or exploitation content
- drug_selling: sale or distribution of illegal drugs
- weapon_selling: sale or trafficking of weapons
- scam_fraud: fraud, phishing, financial scams
- platform_abuse: coordinated abuse of the platform
- abusive_content: harassment, hate speech, threats
- spam_advertising: unsolicited advertising or spam
- none: no violation

Respond with JSON exactly in this shape:
{"category": "<category>", "severity": "none|low|medium|high|critical", "confidence": 0.0}`, text)
}

// verdictPayload is the wire shape providers are instructed to return.
type verdictPayload struct {
	Category   string  `json:"category"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
}

// parseVerdict decodes a model response into a Verdict. Markdown code fences
// are stripped first since models add them despite instructions.
func parseVerdict(raw string) (policy.Verdict, error) {
	clean := stripFences(raw)

	var payload verdictPayload
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return policy.Verdict{}, fmt.Errorf("aigate: decode verdict: %w", err)
	}

	sev, ok := policy.ParseSeverity(payload.Severity)
	v := policy.Verdict{
		Category:   policy.Category(payload.Category),
		Severity:   sev,
		Confidence: payload.Confidence,
	}
	if !ok {
		// Unknown severity string: treat as a reviewable low-grade hit
		// unless the category says clean.
		if v.Category != policy.CategoryNone && v.Category != "" {
			v.Severity = policy.SeverityLow
			v.NeedsReview = true
		}
	}
	return v, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
