package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(role, content string, ts int64) Message {
	return Message{Role: role, Content: content, Timestamp: ts}
}

func TestScoreBounds(t *testing.T) {
	now := time.Now().UnixMilli()
	ctx := Context{ThreadStart: now - 60_000, ThreadEnd: now}

	cases := []Message{
		msgAt("user", "", now),
		msgAt("user", "ok", now),
		msgAt("user", "I always prefer dark mode.", now),
		msgAt("assistant", "Here is a very long explanation, with commas, and conjunctions, and a URL https://example.com to boot.", now-30_000),
		msgAt("user", "My email is alice@example.com and my deadline is Friday!", now),
	}
	for _, m := range cases {
		s := Score(m, ctx)
		assert.GreaterOrEqual(t, s, 0.0, "content=%q", m.Content)
		assert.LessOrEqual(t, s, 1.0, "content=%q", m.Content)
	}
}

func TestScoreDeterministic(t *testing.T) {
	now := time.Now().UnixMilli()
	ctx := Context{ThreadStart: now - 60_000, ThreadEnd: now}
	m := msgAt("user", "I always prefer dark mode.", now)

	first := Score(m, ctx)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Score(m, ctx))
	}
}

func TestStrongPreferenceScoresHigh(t *testing.T) {
	now := time.Now().UnixMilli()
	ctx := Context{ThreadStart: now - 60_000, ThreadEnd: now}

	d := DetailedScore(msgAt("user", "I always prefer dark mode.", now), ctx)
	assert.GreaterOrEqual(t, d.Total, 0.65, "detail=%+v", d)
}

func TestFillerScoresLow(t *testing.T) {
	now := time.Now().UnixMilli()
	ctx := Context{ThreadStart: now - 60_000, ThreadEnd: now}

	for _, content := range []string{"ok", "thanks", "lol", "yes"} {
		d := DetailedScore(msgAt("user", content, now), ctx)
		assert.Less(t, d.Total, 0.5, "content=%q detail=%+v", content, d)
	}
}

func TestUserOutscoresAssistant(t *testing.T) {
	now := time.Now().UnixMilli()
	ctx := Context{ThreadStart: now - 60_000, ThreadEnd: now}
	content := "I always prefer dark mode."

	user := Score(msgAt("user", content, now), ctx)
	assistant := Score(msgAt("assistant", content, now), ctx)
	assert.Greater(t, user, assistant)
}

func TestRecencyFavorsNewerMessages(t *testing.T) {
	start := int64(1_000_000)
	end := start + 180_000
	ctx := Context{ThreadStart: start, ThreadEnd: end}
	content := "We decided to use Postgres for the project, because of JSONB."

	older := Score(msgAt("user", content, start), ctx)
	newer := Score(msgAt("user", content, end), ctx)
	assert.Greater(t, newer, older)
}

func TestRecencyDegenerateWindow(t *testing.T) {
	ts := int64(5_000)
	d := DetailedScore(msgAt("user", "My name is Alice.", ts), Context{ThreadStart: ts, ThreadEnd: ts})
	assert.Equal(t, 1.0, d.Recency)
}

func TestTruncatedContentScoresLowerCoherence(t *testing.T) {
	full := coherence("We decided to move the deadline to Friday.")
	cut := coherence("We decided to move the deadline to...")
	assert.Greater(t, full, cut)
}

func TestDetailSubScoresInRange(t *testing.T) {
	now := time.Now().UnixMilli()
	ctx := Context{ThreadStart: now - 60_000, ThreadEnd: now}

	d := DetailedScore(msgAt("user", "Remember that I live in Berlin and work at Example Corp.", now), ctx)
	for name, v := range map[string]float64{
		"relevance":  d.Relevance,
		"importance": d.Importance,
		"coherence":  d.Coherence,
		"recency":    d.Recency,
		"total":      d.Total,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}
