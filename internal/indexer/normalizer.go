package indexer

import (
	"regexp"
	"strings"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	extraNewlines   = regexp.MustCompile(`\n{3,}`)
)

// Normalize converts non-breaking spaces, collapses runs of spaces and tabs, squeezes three or
// more newlines to a blank line and trims the result. Non-whitespace runes are kept as-is,
// so Arabic and Latin text pass through untouched.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = extraNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
