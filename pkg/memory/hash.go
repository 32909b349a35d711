package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeContent strips leading/trailing whitespace and collapses
// internal whitespace runs to a single space, so re-submissions that
// differ only in formatting hash identically.
func NormalizeContent(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	inRun := false
	for _, r := range strings.TrimSpace(content) {
		if unicode.IsSpace(r) {
			inRun = true
			continue
		}
		if inRun {
			b.WriteByte(' ')
			inRun = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HashContent returns the hex sha256 digest of the normalized content.
// Hash equality is treated as content equality; no byte comparison
// fallback.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}
