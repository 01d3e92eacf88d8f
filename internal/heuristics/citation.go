package heuristics

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// CollapseWhitespace replaces every whitespace run with one space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// NormalizeCitation folds compatibility characters (non-breaking spaces,
// full-width digits) and collapses whitespace. Empty input yields "".
func NormalizeCitation(raw string) string {
	if raw == "" {
		return ""
	}
	return CollapseWhitespace(norm.NFKC.String(raw))
}

// StableKey is the hex SHA-256 of "caseName|link". It identifies opinions
// that carry no citation.
func StableKey(caseName, link string) string {
	sum := sha256.Sum256([]byte(caseName + "|" + link))
	return hex.EncodeToString(sum[:])
}

// Truncate trims s and caps it at n runes, replacing the tail with "..." when
// it had to cut.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
