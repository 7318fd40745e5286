package policy

import (
	"regexp"
	"strings"
)

// rule is one ordered category matcher. Patterns are matched against the
// normalized form of the text (lowercased, leet-decoded, separator-collapsed)
// so the usual bypass spellings fall through to the same expressions.
type rule struct {
	category   Category
	severity   Severity
	confidence float64
	patterns   []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// Engine evaluates text against the ordered rule set. Zero-value is not
// usable; construct with NewEngine. Safe for concurrent use: all state is
// read-only after construction.
type Engine struct {
	rules []rule
}

// NewEngine builds the default rule set. Critical categories come first and
// short-circuit, so the most severe violations never depend on later rules
// or on AI availability.
func NewEngine() *Engine {
	return &Engine{rules: []rule{
		{
			category:   CategoryChildExploitation,
			severity:   SeverityCritical,
			confidence: 0.95,
			patterns: compile(
				`\b(cp|child\s*porn|kiddie\s*porn|pedo|loli|shota)\b`,
				`\b(underage|minors?|child(ren)?)\s*(sex|nude|naked|porn)`,
				`\b(selling|trading|sharing|buying)\s*(cp|child\s*content)`,
				`\b(young|teen|school)\s*(girl|boy)s?\s*(selling|available|for\s*sale)`,
			),
		},
		{
			category:   CategoryDrugSelling,
			severity:   SeverityHigh,
			confidence: 0.9,
			patterns: compile(
				`\b(sell(ing)?|deal(ing)?|buy(ing)?|trading)\s+(drugs?|substances?|narcotics?)\b`,
				`\b(drugs?|substances?|narcotics?)\s+(selling|dealing|for\s*sale|available)\b`,
				`\b(sell(ing)?|deal(ing)?|buy(ing)?|trading)\s+(weed|ganja|marijuana|cannabis|cocaine|heroin|meth|lsd|mdma|ecstasy)\b`,
				`\b(buy|get|order)\s+(drugs?|weed|pills|cocaine|heroin|meth)\s+here\b`,
				`\b(drug\s*dealer|plug|supplier)\b.*\b(dm|contact|hit\s*me\s*up)\b`,
				`\b(hit\s*me\s*up|dm\s*me|contact\s*me)\b.*\b(weed|drugs|pills|cocaine|ganja)\b`,
				`\b(wholesale|bulk)\s*(drugs|weed|ganja)\b`,
			),
		},
		{
			category:   CategoryWeaponSelling,
			severity:   SeverityHigh,
			confidence: 0.9,
			patterns: compile(
				`\b(sell(ing)?|buy(ing)?|trading|dealing)\s+(guns?|weapons?|firearms?|ammunition|ammo)\b`,
				`\b(pistols?|rifles?|shotguns?|ak47|ar15|glock|bullets?|grenades?)\b.*\b(for\s*sale|selling|available)\b`,
				`\b(gun\s*dealer|arms\s*dealer|weapons?\s*supplier)\b`,
				`\b(explosives?|bombs?|c4|dynamite)\b.*\b(selling|available|for\s*sale)\b`,
			),
		},
		{
			category:   CategoryScamFraud,
			severity:   SeverityHigh,
			confidence: 0.85,
			patterns: compile(
				`\b(credit\s*card\s*fraud|carding|money\s*laundering|counterfeit)\b`,
				`\b(fake\s*ids?|stolen\s*cards?|cloned\s*cards?)\b`,
				`\b(phishing\s*kit|scam\s*method|fraud\s*tutorial)\b`,
				`\b(paypal\s*hack|bank\s*hack|crypto\s*scam)\b`,
			),
		},
		{
			category:   CategoryPlatformAbuse,
			severity:   SeverityHigh,
			confidence: 0.8,
			patterns: compile(
				`\b(pyramid\s*scheme|ponzi|get\s*rich\s*quick)\b`,
				`\b(doxxing|stalking)\b`,
				`\b(impersonation|identity\s*theft)\b`,
				`\b(cracked|pirated)\s*(software|accounts?)\b`,
			),
		},
		{
			category:   CategoryAbusiveContent,
			severity:   SeverityMedium,
			confidence: 0.7,
			patterns: compile(
				`\b(hate\s*speech|racist|nazi|fascist)\b`,
				`\b(kill\s*yourself|go\s*die)\b`,
				`\b(threatening|intimidation)\b`,
			),
		},
		{
			category:   CategorySpamAdvertising,
			severity:   SeverityLow,
			confidence: 0.6,
			patterns: compile(
				`\b(free\s*(bitcoin|crypto|money))\b`,
				`\bjoin\s+(my|our)\s+(channel|group)\b.*\b(earn|profit|win)\b`,
				`\b(limited\s*offer|act\s*now|100%\s*guaranteed)\b`,
			),
		},
	}}
}

// Bypass-pair expressions run against the glued form of the text (separator
// stuffing removed), where word boundaries no longer exist. A category fires
// only when both a subject term and a trade term are present, keeping false
// positives down on ordinary text.
var (
	bypassTrade  = regexp.MustCompile(`(selling|for\s*sale|buying|trade|available|wanted|dm\s*me|hit\s*me\s*up)`)
	bypassCP     = regexp.MustCompile(`(loli|shota|pedo|childporn|kiddieporn)`)
	bypassDrug   = regexp.MustCompile(`(drugs|weed|ganja|cocaine|heroin|meth|mdma|hashish|opium)`)
	bypassWeapon = regexp.MustCompile(`(guns|weapons|ammo|bullets|pistols|rifles|grenades|explosives)`)
)

// evaluateGlued checks the separator-collapsed text for bypass spellings.
// Only called when gluing actually changed the text, so normal messages
// never reach these looser substring patterns.
func evaluateGlued(glued string) (Verdict, bool) {
	if !bypassTrade.MatchString(glued) {
		return Verdict{}, false
	}
	switch {
	case bypassCP.MatchString(glued):
		return Verdict{Category: CategoryChildExploitation, Severity: SeverityCritical, Confidence: 0.9, Source: SourceRule}, true
	case bypassDrug.MatchString(glued):
		return Verdict{Category: CategoryDrugSelling, Severity: SeverityHigh, Confidence: 0.85, Source: SourceRule}, true
	case bypassWeapon.MatchString(glued):
		return Verdict{Category: CategoryWeaponSelling, Severity: SeverityHigh, Confidence: 0.85, Source: SourceRule}, true
	}
	return Verdict{}, false
}

// exemptPatterns match content that is skipped entirely: bot commands,
// URL-only and mention-only messages. Empty text is handled separately.
var exemptPatterns = compile(
	`^/\w+`,
	`^https?://\S+$`,
	`^@\w+$`,
)

// Exempt reports whether text should bypass classification altogether.
func Exempt(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	for _, p := range exemptPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// Evaluate runs the ordered matchers against text. The first matching rule
// wins. The second return value is false when no rule fired (inconclusive);
// the pipeline then proceeds to AI classification.
func (e *Engine) Evaluate(text string) (Verdict, bool) {
	normalized := NormalizeText(text)

	for _, r := range e.rules {
		for _, p := range r.patterns {
			if p.MatchString(normalized) {
				return Verdict{
					Category:   r.category,
					Severity:   r.severity,
					Confidence: r.confidence,
					Source:     SourceRule,
				}, true
			}
		}
	}

	// Separator stuffing ("s e l l i n g  w e e d") defeats boundary
	// matching; when gluing changed the text, run the bypass pairs.
	if glued := collapseSeparators(normalizeLeet(text)); glued != normalized {
		if v, ok := evaluateGlued(glued); ok {
			return v, true
		}
	}
	return Verdict{}, false
}

// Conservative returns the fail-safe verdict used when AI classification is
// unavailable and the rules were inconclusive: no violation, flagged for
// review so the batch sweep can revisit the message later.
func Conservative() Verdict {
	return Verdict{
		Category:    CategoryNone,
		Severity:    SeverityNone,
		Source:      SourceRule,
		NeedsReview: true,
	}
}
