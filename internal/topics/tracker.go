// Package topics keeps a lightweight per-thread record of what a
// conversation has been about. The signal is ancillary: it feeds the
// metrics endpoint and lets audits tell a stable topic from a stale
// one. Memory-only and rebuildable.
package topics

import (
	"sort"
	"sync"
	"time"
)

// TTLClass buckets how long a topic stays fresh without being seen.
type TTLClass string

const (
	TTLShort  TTLClass = "short"  // ephemeral, e.g. one-off questions
	TTLMedium TTLClass = "medium" // session-scoped subjects
	TTLLong   TTLClass = "long"   // durable subjects (projects, people)
)

func (c TTLClass) duration() time.Duration {
	switch c {
	case TTLShort:
		return 30 * time.Minute
	case TTLLong:
		return 72 * time.Hour
	default:
		return 6 * time.Hour
	}
}

// Entry is the tracked history for one topic in one thread.
type Entry struct {
	TTLClass     TTLClass
	Entities     map[string]struct{}
	FirstSeen    time.Time
	LastSeen     time.Time
	LastVerified time.Time
	BatchCount   int
}

// Info is a read-only view of an Entry.
type Info struct {
	Topic      string   `json:"topic"`
	TTLClass   TTLClass `json:"ttlClass"`
	Entities   []string `json:"entities"`
	BatchCount int      `json:"batchCount"`
	Stale      bool     `json:"stale"`
}

// Tracker owns topic histories for all threads.
type Tracker struct {
	mu      sync.Mutex
	threads map[string]map[string]*Entry
	now     func() time.Time
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		threads: make(map[string]map[string]*Entry),
		now:     time.Now,
	}
}

// Observe records one sighting of a topic in a batch. Entities are
// unioned additively across batches; the TTL class of the latest
// observation wins.
func (t *Tracker) Observe(threadID, topic string, ttl TTLClass, entities []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	byTopic, ok := t.threads[threadID]
	if !ok {
		byTopic = make(map[string]*Entry)
		t.threads[threadID] = byTopic
	}
	e, ok := byTopic[topic]
	if !ok {
		e = &Entry{
			TTLClass:  ttl,
			Entities:  make(map[string]struct{}),
			FirstSeen: now,
		}
		byTopic[topic] = e
	}
	e.TTLClass = ttl
	e.LastSeen = now
	e.BatchCount++
	for _, ent := range entities {
		e.Entities[ent] = struct{}{}
	}
}

// Verify stamps a topic as re-confirmed without counting a new batch.
func (t *Tracker) Verify(threadID, topic string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.threads[threadID][topic]; ok {
		e.LastVerified = t.now()
	}
}

// IsStale reports whether a topic has outlived its TTL class without
// being seen. Unknown topics are stale.
func (t *Tracker) IsStale(threadID, topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.threads[threadID][topic]
	if !ok {
		return true
	}
	return t.now().Sub(e.LastSeen) > e.TTLClass.duration()
}

// Topics returns the tracked topics for a thread, most recent first.
func (t *Tracker) Topics(threadID string) []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	byTopic := t.threads[threadID]
	infos := make([]Info, 0, len(byTopic))
	now := t.now()
	for topic, e := range byTopic {
		ents := make([]string, 0, len(e.Entities))
		for ent := range e.Entities {
			ents = append(ents, ent)
		}
		sort.Strings(ents)
		infos = append(infos, Info{
			Topic:      topic,
			TTLClass:   e.TTLClass,
			Entities:   ents,
			BatchCount: e.BatchCount,
			Stale:      now.Sub(e.LastSeen) > e.TTLClass.duration(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Topic < infos[j].Topic })
	return infos
}

// Cleanup removes topics not seen within maxAge, then empty threads.
// Returns the number of topics removed.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	removed := 0
	for threadID, byTopic := range t.threads {
		for topic, e := range byTopic {
			if e.LastSeen.Before(cutoff) {
				delete(byTopic, topic)
				removed++
			}
		}
		if len(byTopic) == 0 {
			delete(t.threads, threadID)
		}
	}
	return removed
}

// Count returns the total number of tracked topics, for metrics.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, byTopic := range t.threads {
		n += len(byTopic)
	}
	return n
}
