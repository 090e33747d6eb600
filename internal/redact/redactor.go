// Package redact detects PII in message content and replaces it with
// reversible placeholders. The transform is stateless and lossless: the
// substitution map returned by Redact restores the original text.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Category names appear inside placeholders, e.g. [EMAIL_3f2a1b9c].
const (
	CategoryJWT    = "JWT"
	CategoryAPIKey = "API_KEY"
	CategoryEmail  = "EMAIL"
	CategoryPhone  = "PHONE"
	CategorySSN    = "SSN"
	CategoryCard   = "CARD"
	CategoryIP     = "IP"
)

// detector is one PII category. Order matters: at equal start positions
// the earlier category wins.
type detector struct {
	category string
	re       *regexp.Regexp
	// accept vetoes a raw regex match; nil accepts everything.
	accept func(match string) bool
}

var detectors = []detector{
	{CategoryJWT, regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), nil},
	{CategoryAPIKey, regexp.MustCompile(`\b(?:sk|pk|api|key|tok|ghp|xox[baprs])[-_][A-Za-z0-9]{16,}\b|\b[A-Za-z0-9]{40,}\b`), nil},
	{CategoryEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), nil},
	{CategoryPhone, regexp.MustCompile(`(?:\+?\d{1,2}[-.\s])?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`), nil},
	{CategorySSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), nil},
	{CategoryCard, regexp.MustCompile(`\b(?:\d{4}[-\s]){3}\d{4}\b|\b\d{15,16}\b`), nil},
	{CategoryIP, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), acceptPublicIPv4},
}

// placeholderRe matches any placeholder produced by Redact.
var placeholderRe = regexp.MustCompile(`\[[A-Z_]+_[0-9a-f]{8}\]`)

// Result is the output of Redact.
type Result struct {
	Redacted string
	// Map is placeholder -> original value; nil when no PII was found.
	Map    map[string]string
	HadPII bool
}

type span struct {
	start, end int
	category   int // index into detectors; lower wins at equal start
	value      string
}

// Redact replaces every detected PII value with [{CATEGORY}_{hash}].
// The hash derives from the matched value, so identical values collapse
// to a single placeholder and distinct values get distinct placeholders.
func Redact(text string) Result {
	var spans []span
	for ci, d := range detectors {
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			val := text[loc[0]:loc[1]]
			if d.accept != nil && !d.accept(val) {
				continue
			}
			spans = append(spans, span{start: loc[0], end: loc[1], category: ci, value: val})
		}
	}
	if len(spans) == 0 {
		return Result{Redacted: text}
	}

	// Left-to-right, first match wins at each position; overlaps are
	// dropped in favour of the earlier (or higher-priority) span.
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].category < spans[j].category
	})

	subs := make(map[string]string)
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		if sp.start < last {
			continue // overlaps an accepted earlier match
		}
		ph := placeholder(detectors[sp.category].category, sp.value)
		subs[ph] = sp.value
		b.WriteString(text[last:sp.start])
		b.WriteString(ph)
		last = sp.end
	}
	b.WriteString(text[last:])

	return Result{Redacted: b.String(), Map: subs, HadPII: true}
}

// Restore reverses Redact using the substitution map. For any x,
// Restore(Redact(x).Redacted, Redact(x).Map) == x.
func Restore(text string, subs map[string]string) string {
	if len(subs) == 0 {
		return text
	}
	for ph, val := range subs {
		text = strings.ReplaceAll(text, ph, val)
	}
	return text
}

// IsAllRedacted reports whether text carries no substantive content
// beyond placeholders, punctuation and whitespace. Used to discard
// memories that are pure PII.
func IsAllRedacted(text string) bool {
	stripped := placeholderRe.ReplaceAllString(text, "")
	for _, r := range stripped {
		if isAlnum(r) {
			return false
		}
	}
	return true
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func placeholder(category, value string) string {
	sum := sha256.Sum256([]byte(value))
	return "[" + category + "_" + hex.EncodeToString(sum[:4]) + "]"
}

// acceptPublicIPv4 vetoes malformed octets, loopback and RFC1918
// private ranges: 127.*, 10.*, 172.16-31.*, 192.168.*.
func acceptPublicIPv4(match string) bool {
	parts := strings.Split(match, ".")
	if len(parts) != 4 {
		return false
	}
	octets := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return false
		}
		octets[i] = n
	}
	switch {
	case octets[0] == 127:
		return false
	case octets[0] == 10:
		return false
	case octets[0] == 172 && octets[1] >= 16 && octets[1] <= 31:
		return false
	case octets[0] == 192 && octets[1] == 168:
		return false
	}
	return true
}
