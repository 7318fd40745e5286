package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// leetMap translates common character substitutions back to letters so that
// "dru9s 4 s@le" is matched by the same patterns as "drugs 4 sale".
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet lowercases text and undoes leetspeak substitutions.
func normalizeLeet(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if sub, ok := leetMap[r]; ok {
			b.WriteRune(sub)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// collapseSeparators removes the space/dot/dash/underscore stuffing used to
// split banned words letter by letter ("d r u g s", "w.e.e.d"). A separator
// run between two single letters is dropped; everything else keeps a single
// space so word boundaries survive.
func collapseSeparators(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '-' || r == '_'
	})

	var b strings.Builder
	b.Grow(len(text))
	for i, w := range words {
		if i > 0 {
			prev := words[i-1]
			// Glue consecutive single letters together; keep a word
			// boundary otherwise.
			if len(prev) == 1 && len(w) == 1 {
				// no separator
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(w)
	}
	return b.String()
}

// NormalizeText produces the canonical form of message text used both for
// fingerprinting and for rule matching: lowercased, leet-decoded,
// whitespace-collapsed.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(normalizeLeet(text)), " ")
}

// Fingerprint returns the deterministic content fingerprint of a message.
// Two messages with identical normalized text collapse to one fingerprint,
// so repeated spam is classified once and served from cache afterwards.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}
