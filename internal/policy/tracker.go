package policy

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	trackerHistory = 5               // messages kept per (chat, user)
	trackerWindow  = 5 * time.Minute // history older than this is ignored
)

// Split-violation detection requires both a subject term and a trade term in
// the combined recent history, so "weed" alone across messages does not fire.
var (
	splitDrugTerms   = regexp.MustCompile(`\b(drugs?|weed|ganja|cocaine|heroin|meth|lsd|mdma|hashish|opium|crack)\b`)
	splitWeaponTerms = regexp.MustCompile(`\b(guns?|weapons?|ammo|bullets?|pistols?|rifles?|grenades?|bombs?|explosives?)\b`)
	splitCPTerms     = regexp.MustCompile(`\b(cp|loli|shota|pedo|kids?|child(ren)?)\b`)
	splitTradeTerms  = regexp.MustCompile(`\b(selling|for\s*sale|buying|trade|available|wanted)\b`)
)

type trackedMsg struct {
	text string
	ts   time.Time
}

// Tracker keeps a short rolling window of recent message text per
// (chat, user) and detects violations split across messages to dodge
// single-message matching. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	history map[string][]trackedMsg
}

// NewTracker returns an empty multi-message tracker.
func NewTracker() *Tracker {
	return &Tracker{history: make(map[string][]trackedMsg)}
}

func trackerKey(chatID, userID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// Observe records a message and returns a split-violation verdict if the
// combined recent history now forms one. The current message must already
// have passed single-message evaluation; split detection only supplements.
func (t *Tracker) Observe(chatID, userID int64, text string, ts time.Time) (Verdict, bool) {
	key := trackerKey(chatID, userID)
	normalized := collapseSeparators(normalizeLeet(text))

	t.mu.Lock()
	msgs := append(t.history[key], trackedMsg{text: normalized, ts: ts})
	// Trim to the history cap and the time window.
	if len(msgs) > trackerHistory {
		msgs = msgs[len(msgs)-trackerHistory:]
	}
	cutoff := ts.Add(-trackerWindow)
	for len(msgs) > 0 && msgs[0].ts.Before(cutoff) {
		msgs = msgs[1:]
	}
	t.history[key] = msgs
	t.mu.Unlock()

	if len(msgs) < 2 {
		return Verdict{}, false
	}

	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.text
	}
	combined := strings.Join(parts, " ")

	trade := splitTradeTerms.MatchString(combined)
	if !trade {
		return Verdict{}, false
	}

	switch {
	case splitCPTerms.MatchString(combined):
		return splitVerdict(CategoryChildExploitation, SeverityCritical), true
	case splitDrugTerms.MatchString(combined):
		return splitVerdict(CategoryDrugSelling, SeverityHigh), true
	case splitWeaponTerms.MatchString(combined):
		return splitVerdict(CategoryWeaponSelling, SeverityHigh), true
	}
	return Verdict{}, false
}

func splitVerdict(cat Category, sev Severity) Verdict {
	return Verdict{
		Category:   cat,
		Severity:   sev,
		Confidence: 0.9,
		Source:     SourceRule,
	}
}

// Forget drops the tracked history for a (chat, user) pair.
func (t *Tracker) Forget(chatID, userID int64) {
	t.mu.Lock()
	delete(t.history, trackerKey(chatID, userID))
	t.mu.Unlock()
}
