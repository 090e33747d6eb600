package engine

import (
	"context"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/mnemo-labs/mnemo/internal/redact"
	"github.com/mnemo-labs/mnemo/internal/score"
	"github.com/mnemo-labs/mnemo/internal/store"
	"github.com/mnemo-labs/mnemo/internal/topics"
)

// MessageEvent is one inbound message-ingestion event from the gateway.
type MessageEvent struct {
	UserID    string `json:"userId"`
	ThreadID  string `json:"threadId"`
	MsgID     string `json:"msgId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	TokensIn  int    `json:"tokensIn"`
	TokensOut int    `json:"tokensOut"`
	Timestamp int64  `json:"timestamp"`
}

// auditPayload is the job payload for one audit pass.
type auditPayload struct {
	UserID   string
	ThreadID string
}

// recurrence matching: how many recent memories to compare against, and
// the bigram-Jaccard similarity above which two texts count as the same
// fact.
const (
	recurrenceScanLimit     = 50
	recurrenceSimilarity    = 0.82
	recurrenceCompareMinLen = 8
)

// runAudit scores the pending window for one thread, redacts and
// persists what clears the save threshold, and records the audit. All
// failures here are logged and swallowed by the queue; nothing reaches
// the conversational turn.
func (e *Engine) runAudit(ctx context.Context, p auditPayload) error {
	window := e.takeWindow(p.UserID, p.ThreadID)
	if len(window) == 0 {
		return nil
	}

	sctx := score.Context{
		ThreadStart: window[0].Timestamp,
		ThreadEnd:   window[len(window)-1].Timestamp,
	}

	var (
		scoreSum   float64
		tokenCount int
		saved      int
	)

	recent, err := e.store.RecentByUser(ctx, p.UserID, recurrenceScanLimit)
	if err != nil {
		// Recurrence detection degrades to plain creation.
		log.Printf("audit: recent memories for %s: %v", p.UserID, err)
		recent = nil
	}

	for _, msg := range window {
		tokenCount += msg.TokensIn + msg.TokensOut

		d := score.DetailedScore(score.Message{
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}, sctx)
		scoreSum += d.Total

		if d.Total < e.cfg.SaveThreshold {
			continue
		}

		red := redact.Redact(msg.Content)
		if redact.IsAllRedacted(red.Redacted) {
			continue // pure PII, nothing worth keeping
		}
		content := truncateContent(red.Redacted, store.MaxContentLen)

		if prior := matchRecurrence(recent, content); prior != nil {
			if err := e.store.RecordRecurrence(ctx, prior.ID, p.ThreadID, msg.Timestamp); err != nil {
				log.Printf("audit: recurrence on memory %d: %v", prior.ID, err)
			}
			e.observeTopic(p.ThreadID, prior.Tier, prior.Entities)
			continue
		}

		entities := extractEntities(content)
		tier := ClassifyTier(content)
		m := &store.Memory{
			UserID:         p.UserID,
			ThreadID:       p.ThreadID,
			SourceThreadID: p.ThreadID,
			Content:        content,
			Entities:       entities,
			Priority:       d.Total,
			Confidence:     d.Coherence,
			RedactionMap:   red.Map,
			Tier:           tier,
			LastSeenAt:     msg.Timestamp,
		}
		if err := e.store.CreateMemory(ctx, m); err != nil {
			log.Printf("audit: create memory for %s: %v", p.UserID, err)
			continue
		}
		recent = append(recent, *m)
		saved++
		e.observeTopic(p.ThreadID, tier, entities)
	}

	rec := &store.AuditRecord{
		UserID:      p.UserID,
		ThreadID:    p.ThreadID,
		WindowStart: window[0].Timestamp,
		WindowEnd:   window[len(window)-1].Timestamp,
		MsgCount:    len(window),
		TokenCount:  tokenCount,
		AvgScore:    scoreSum / float64(len(window)),
		SavedCount:  saved,
	}
	if err := e.store.AppendAuditRecord(ctx, rec); err != nil {
		log.Printf("audit: append record for %s: %v", p.UserID, err)
	}

	e.cadence.MarkAuditComplete(p.UserID, p.ThreadID)
	log.Printf("audit: %s/%s msgs=%d saved=%d avg=%.2f",
		p.UserID, p.ThreadID, len(window), saved, rec.AvgScore)
	return nil
}

// observeTopic feeds the topic tracker from a saved or recurring
// memory. The leading entity names the topic; TIER2 facts are durable.
func (e *Engine) observeTopic(threadID string, tier store.Tier, entities []string) {
	if e.topics == nil || len(entities) == 0 {
		return
	}
	ttl := topics.TTLMedium
	if tier == store.Tier2 {
		ttl = topics.TTLLong
	}
	e.topics.Observe(threadID, entities[0], ttl, entities)
}

// matchRecurrence returns the first recent memory whose content is a
// near-duplicate of content, or nil.
func matchRecurrence(recent []store.Memory, content string) *store.Memory {
	for i := range recent {
		if nearDuplicate(recent[i].Content, content) {
			return &recent[i]
		}
	}
	return nil
}

// nearDuplicate reports whether two strings state the same fact, using
// shared-bigram Jaccard similarity. Intentionally cheap — no embeddings
// at the audit layer.
func nearDuplicate(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return a != ""
	}
	if len(a) < recurrenceCompareMinLen || len(b) < recurrenceCompareMinLen {
		return false
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return false
	}

	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}
	union := len(bigramsA) + len(bigramsB) - shared
	if union == 0 {
		return true
	}
	return float64(shared)/float64(union) > recurrenceSimilarity
}

func bigrams(s string) map[string]bool {
	if len(s) < 2 {
		return nil
	}
	m := make(map[string]bool, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		m[s[i:i+2]] = true
	}
	return m
}

// truncateContent caps content at max bytes without splitting a rune
// and without cutting a redaction placeholder in half, which would
// leave a fragment its substitution map can no longer restore.
func truncateContent(content string, max int) string {
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	if open := strings.LastIndexByte(content[:cut], '['); open >= 0 &&
		!strings.ContainsRune(content[open:cut], ']') {
		cut = open
	}
	return strings.TrimRight(content[:cut], " ")
}

// takeWindow snapshots and clears the pending message window for a
// thread.
func (e *Engine) takeWindow(userID, threadID string) []MessageEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := userID + "|" + threadID
	window := e.windows[k]
	delete(e.windows, k)
	return window
}

// bufferMessage appends an event to the thread's pending window,
// dropping the oldest entry once the cap is reached.
func (e *Engine) bufferMessage(ev MessageEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := ev.UserID + "|" + ev.ThreadID
	w := append(e.windows[k], ev)
	if len(w) > e.cfg.WindowCap {
		w = w[len(w)-e.cfg.WindowCap:]
	}
	e.windows[k] = w
}

// windowCount returns the number of buffered windows, for metrics.
func (e *Engine) windowCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.windows)
}
