// Package cadence accumulates per-(user,thread) message signals and
// decides when a conversation window is ready for an audit. State is
// memory-only: losing it on restart just restarts the accumulation
// window.
package cadence

import (
	"sync"
	"time"
)

// Config holds the audit trigger thresholds.
type Config struct {
	MsgThreshold   int           // messages per window (default 6)
	TokenThreshold int           // tokens per window (default 1500)
	MaxWindow      time.Duration // elapsed time per window (default 3m)
	Debounce       time.Duration // minimum gap between audits (default 30s)
}

// DefaultConfig returns the standard trigger thresholds.
func DefaultConfig() Config {
	return Config{
		MsgThreshold:   6,
		TokenThreshold: 1500,
		MaxWindow:      3 * time.Minute,
		Debounce:       30 * time.Second,
	}
}

// State is a snapshot of one thread's accumulation window.
type State struct {
	MsgCount      int
	TokenCount    int
	FirstMsgTime  time.Time // start of the current window
	LastMsgTime   time.Time
	LastAuditTime time.Time
}

// Tracker owns the cadence state for all active threads.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	threads map[string]*State
	now     func() time.Time
}

// New creates a Tracker. Zero-valued cfg fields fall back to defaults.
func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.MsgThreshold <= 0 {
		cfg.MsgThreshold = def.MsgThreshold
	}
	if cfg.TokenThreshold <= 0 {
		cfg.TokenThreshold = def.TokenThreshold
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = def.MaxWindow
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	return &Tracker{
		cfg:     cfg,
		threads: make(map[string]*State),
		now:     time.Now,
	}
}

func key(userID, threadID string) string {
	return userID + "|" + threadID
}

// RecordMessage accumulates one message into the thread's window. The
// window start timestamp is the first message recorded after the window
// was (re)opened.
func (t *Tracker) RecordMessage(userID, threadID string, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s, ok := t.threads[key(userID, threadID)]
	if !ok {
		s = &State{}
		t.threads[key(userID, threadID)] = s
	}
	if s.MsgCount == 0 {
		s.FirstMsgTime = now
	}
	s.MsgCount++
	s.TokenCount += tokens
	s.LastMsgTime = now
}

// ShouldTriggerAudit reports whether the thread's window crossed any
// threshold. The debounce gate suppresses re-triggering within the
// configured gap of the last completed audit, even when thresholds are
// re-met.
func (t *Tracker) ShouldTriggerAudit(userID, threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.threads[key(userID, threadID)]
	if !ok || s.MsgCount == 0 {
		return false
	}

	now := t.now()
	if !s.LastAuditTime.IsZero() && now.Sub(s.LastAuditTime) < t.cfg.Debounce {
		return false
	}

	return s.MsgCount >= t.cfg.MsgThreshold ||
		s.TokenCount >= t.cfg.TokenThreshold ||
		now.Sub(s.FirstMsgTime) >= t.cfg.MaxWindow
}

// MarkAuditComplete resets the counters and stamps the debounce gate.
// The window start restarts at the next RecordMessage call.
func (t *Tracker) MarkAuditComplete(userID, threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.threads[key(userID, threadID)]
	if !ok {
		return
	}
	s.MsgCount = 0
	s.TokenCount = 0
	s.FirstMsgTime = time.Time{}
	s.LastAuditTime = t.now()
}

// Snapshot returns a copy of the thread's current window state.
func (t *Tracker) Snapshot(userID, threadID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.threads[key(userID, threadID)]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// Cleanup removes threads whose last message is older than maxAge and
// returns the number removed. Zero maxAge means 24 hours.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	removed := 0
	for k, s := range t.threads {
		last := s.LastMsgTime
		if last.IsZero() {
			last = s.LastAuditTime
		}
		if last.Before(cutoff) {
			delete(t.threads, k)
			removed++
		}
	}
	return removed
}

// ActiveThreads returns the number of tracked threads, for metrics.
func (t *Tracker) ActiveThreads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.threads)
}
