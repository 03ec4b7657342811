package transform

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/catalog-sync/internal/types"
)

// Handle derives the canonical product handle: the normalized source slug,
// or <platform>-<source id> when the slug normalizes to nothing.
func Handle(platform types.Platform, slug, sourceID string) string {
	if h := NormalizeSlug(slug); h != "" {
		return h
	}
	if id := NormalizeSlug(sourceID); id != "" {
		return fmt.Sprintf("%s-%s", platform, id)
	}
	return ""
}

// NormalizeSlug lowercases s and collapses every run of characters other
// than letters and digits into a single '-'. It is idempotent.
func NormalizeSlug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
