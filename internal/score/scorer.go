// Package score computes the save-worthiness of a conversation message.
// Scoring is a pure function: identical input always yields the same
// score, with no randomness and no external calls.
package score

import (
	"math"
	"regexp"
	"strings"
)

// Factor weights. Relevance dominates, recency is a light tiebreaker.
const (
	weightRelevance  = 0.4
	weightImportance = 0.3
	weightCoherence  = 0.2
	weightRecency    = 0.1
)

// Message is the scored unit.
type Message struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp int64 // unix millis
}

// Context carries the thread window the message belongs to.
type Context struct {
	ThreadStart int64 // timestamp of the oldest message in the window
	ThreadEnd   int64 // timestamp of the newest message in the window
}

// Detail exposes the named sub-scores alongside the total.
type Detail struct {
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
	Coherence  float64 `json:"coherence"`
	Recency    float64 `json:"recency"`
	Total      float64 `json:"total"`
}

var (
	urlRe        = regexp.MustCompile(`https?://\S+`)
	emailRe      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	properNounRe = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)
)

// Domain keywords that mark content as worth keeping: durable
// preferences, identity facts, plans.
var domainKeywords = []string{
	"prefer", "always", "never", "use", "goal", "deadline", "remember",
	"important", "favorite", "allergic", "birthday", "name", "email",
	"work", "live", "project", "setting", "config",
}

// Strong-preference or decision phrasing gets the largest importance band.
var strongKeywords = []string{
	"always", "never", "prefer", "must", "critical", "important",
	"essential", "hate", "love",
}

var decisionPhrases = []string{
	"decided", "decide", "let's use", "going to", "will use",
	"from now on", "instead of",
}

// Score returns the total quality score for msg in [0,1].
func Score(msg Message, ctx Context) float64 {
	return DetailedScore(msg, ctx).Total
}

// DetailedScore returns the four named sub-scores and the weighted
// total, for observability and testing.
func DetailedScore(msg Message, ctx Context) Detail {
	d := Detail{
		Relevance:  relevance(msg.Content),
		Importance: importance(msg),
		Coherence:  coherence(msg.Content),
		Recency:    recency(msg.Timestamp, ctx),
	}
	d.Total = clamp01(weightRelevance*d.Relevance +
		weightImportance*d.Importance +
		weightCoherence*d.Coherence +
		weightRecency*d.Recency)
	return d
}

// relevance rewards entity-like markers (URLs, emails, proper nouns),
// domain keyword hits, and a length-appropriate body.
func relevance(content string) float64 {
	markers := len(urlRe.FindAllString(content, 3)) +
		len(emailRe.FindAllString(content, 3)) +
		len(properNounRe.FindAllString(content, 3))
	if markers > 3 {
		markers = 3
	}

	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			hits++
			if hits == 3 {
				break
			}
		}
	}

	var length float64
	switch n := len(content); {
	case n >= 20 && n <= 600:
		length = 0.3
	case n >= 10 && n <= 1024:
		length = 0.15
	default:
		length = 0.05
	}

	return clamp01(0.2*float64(markers) + 0.15*float64(hits) + length)
}

// importance bands: strong-preference phrasing is the largest band,
// decision phrasing a medium one, questions a small one. A user message
// scores above identical assistant text.
func importance(msg Message) float64 {
	lower := strings.ToLower(msg.Content)
	var s float64
	for _, kw := range strongKeywords {
		if strings.Contains(lower, kw) {
			s += 0.5
			break
		}
	}
	for _, p := range decisionPhrases {
		if strings.Contains(lower, p) {
			s += 0.25
			break
		}
	}
	if strings.Contains(msg.Content, "?") {
		s += 0.1
	}
	if msg.Role == "user" {
		s += 0.15
	}
	return clamp01(s)
}

// coherence rewards a sane length band, multi-clause structure, and
// non-truncated completeness.
func coherence(content string) float64 {
	trimmed := strings.TrimSpace(content)

	s := 0.1
	if n := len(trimmed); n >= 15 && n <= 800 {
		s = 0.4
	}

	for _, marker := range []string{", ", "; ", " and ", " but ", " because "} {
		if strings.Contains(trimmed, marker) {
			s += 0.3
			break
		}
	}

	if complete(trimmed) {
		s += 0.3
	}
	return clamp01(s)
}

// complete is a truncation heuristic: a trailing ellipsis means cut-off
// text; very short fragments without sentence punctuation don't count.
func complete(trimmed string) bool {
	if trimmed == "" || strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		return false
	}
	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "!") || strings.HasSuffix(trimmed, "?") {
		return true
	}
	return len(strings.Fields(trimmed)) >= 3
}

// recency decays exponentially with distance from the end of the
// observed thread window; the newest message scores 1.0.
func recency(ts int64, ctx Context) float64 {
	duration := ctx.ThreadEnd - ctx.ThreadStart
	if duration <= 0 {
		return 1.0
	}
	frac := float64(ts-ctx.ThreadStart) / float64(duration)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return math.Exp(-1.5 * (1 - frac))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
