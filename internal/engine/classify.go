package engine

import (
	"regexp"
	"strings"

	"github.com/mnemo-labs/mnemo/internal/store"
)

// Tier assignment at save time. TIER1 is never assigned here: it is
// reached only through retention promotion once a fact recurs across
// threads.
var preferenceKeywords = []string{
	"prefer", "always", "never", "goal", "requirement", "favorite",
}

// ClassifyTier returns TIER2 for explicit preference/goal phrasing and
// TIER3 for everything else.
func ClassifyTier(content string) store.Tier {
	lower := strings.ToLower(content)
	for _, kw := range preferenceKeywords {
		if strings.Contains(lower, kw) {
			return store.Tier2
		}
	}
	return store.Tier3
}

var (
	entityURLRe  = regexp.MustCompile(`https?://[^\s\])"']+`)
	// Lowercase tail keeps all-caps redaction placeholders out.
	entityNounRe = regexp.MustCompile(`\b[A-Z][a-z0-9]{2,}(?:\s[A-Z][a-z0-9]{2,})?\b`)
)

// maxEntities caps how many entities one memory carries.
const maxEntities = 8

// extractEntities pulls entity-like markers from redacted content: URLs
// and proper-noun runs. Runs post-redaction so raw PII never lands in
// the entities column.
func extractEntities(content string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, u := range entityURLRe.FindAllString(content, maxEntities) {
		add(u)
	}
	for _, n := range entityNounRe.FindAllString(content, maxEntities) {
		if len(out) >= maxEntities {
			break
		}
		add(n)
	}
	if len(out) > maxEntities {
		out = out[:maxEntities]
	}
	return out
}
