// Package normalize provides the deterministic text cleanup applied
// before every embedding request.
package normalize

import (
	"regexp"
	"strings"
)

// MaxLength bounds normalized text to cap downstream embedding cost.
// Truncation is silent and lossy.
const MaxLength = 512

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	disallowed    = regexp.MustCompile(`[^\w\s.,!?-]`)
)

// Normalize collapses whitespace runs to single spaces, strips characters
// outside a conservative allow-list (word characters, whitespace, and
// basic punctuation), trims, and truncates to MaxLength. Pure and total:
// Normalize(Normalize(t)) == Normalize(t).
func Normalize(text string) string {
	// Strip before collapsing so removed characters cannot leave
	// double spaces behind (keeps the function idempotent).
	t := disallowed.ReplaceAllString(text, "")
	t = whitespaceRun.ReplaceAllString(t, " ")
	t = strings.TrimSpace(t)
	if len(t) > MaxLength {
		t = t[:MaxLength]
		// Truncation may expose trailing whitespace again.
		t = strings.TrimSpace(t)
	}
	return t
}
