// Package engine orchestrates the memory subsystem: it buffers inbound
// message events, triggers audits through the job queue, classifies and
// persists memories, and runs the scheduled retention pass. Everything
// here is off the conversational request path.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/mnemo-labs/mnemo/internal/cadence"
	"github.com/mnemo-labs/mnemo/internal/queue"
	"github.com/mnemo-labs/mnemo/internal/store"
	"github.com/mnemo-labs/mnemo/internal/topics"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// SaveThreshold is the minimum quality score for persisting a
	// message as a memory.
	SaveThreshold float64
	// PromoteRepeats is the repeat count (with >=2 distinct threads)
	// that promotes a TIER3 memory to TIER1.
	PromoteRepeats int
	// BatchSize bounds retention sub-batches.
	BatchSize int
	// RetentionSchedule is a cron spec; default "@daily".
	RetentionSchedule string
	// WindowCap bounds the per-thread pending message buffer.
	WindowCap int
}

func (c *Config) applyDefaults() {
	if c.SaveThreshold <= 0 {
		c.SaveThreshold = 0.5
	}
	if c.PromoteRepeats <= 0 {
		c.PromoteRepeats = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.RetentionSchedule == "" {
		c.RetentionSchedule = "@daily"
	}
	if c.WindowCap <= 0 {
		c.WindowCap = 50
	}
}

// Engine wires the cadence tracker, job queue, store and topic tracker
// together.
type Engine struct {
	store   store.Store
	queue   *queue.Queue
	cadence *cadence.Tracker
	topics  *topics.Tracker
	cfg     Config
	cron    *cron.Cron
	limiter *rate.Limiter

	mu              sync.Mutex
	windows         map[string][]MessageEvent
	lastRetention   RetentionResult
	lastRetentionAt time.Time
}

// New creates an Engine and registers its job handlers on q.
func New(st store.Store, q *queue.Queue, cad *cadence.Tracker, top *topics.Tracker, cfg Config) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		store:   st,
		queue:   q,
		cadence: cad,
		topics:  top,
		cfg:     cfg,
		windows: make(map[string][]MessageEvent),
		// One retention sub-batch per 50ms keeps a long pass from
		// starving concurrent recall reads.
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}

	q.Register(queue.TypeAudit, func(ctx context.Context, job queue.Job) error {
		p, err := decodeAuditPayload(job.Payload)
		if err != nil {
			return err
		}
		return e.runAudit(ctx, p)
	})
	q.Register(queue.TypeRetention, func(ctx context.Context, job queue.Job) error {
		_, err := e.RunRetention(ctx)
		return err
	})
	return e
}

// Ingest accepts one message event. Cheap synchronous work only: buffer
// the message, bump cadence counters, and enqueue an audit when the
// window is ready. Never blocks on scoring, redaction or storage.
func (e *Engine) Ingest(ev MessageEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	e.bufferMessage(ev)
	e.cadence.RecordMessage(ev.UserID, ev.ThreadID, ev.TokensIn+ev.TokensOut)

	if e.cadence.ShouldTriggerAudit(ev.UserID, ev.ThreadID) {
		e.EnqueueAudit(ev.UserID, ev.ThreadID)
	}
}

// EnqueueAudit queues an audit pass for one thread. Best-effort.
func (e *Engine) EnqueueAudit(userID, threadID string) bool {
	return e.queue.Enqueue(queue.TypeAudit, auditPayload{UserID: userID, ThreadID: threadID}, 5)
}

// EnqueueRetention queues a retention pass. Best-effort. Retention runs
// below audit priority so a manual trigger never delays live audits.
func (e *Engine) EnqueueRetention() bool {
	return e.queue.Enqueue(queue.TypeRetention, nil, 1)
}

// Start schedules the retention pass (cron, default daily, plus one run
// at startup) and hourly cleanup sweeps of the cadence and topic maps.
func (e *Engine) Start() error {
	e.cron = cron.New()

	if _, err := e.cron.AddFunc(e.cfg.RetentionSchedule, func() {
		e.EnqueueRetention()
	}); err != nil {
		return fmt.Errorf("schedule retention (%q): %w", e.cfg.RetentionSchedule, err)
	}

	if _, err := e.cron.AddFunc("@hourly", func() {
		if n := e.cadence.Cleanup(0); n > 0 {
			log.Printf("cadence: swept %d stale threads", n)
		}
		if e.topics != nil {
			if n := e.topics.Cleanup(0); n > 0 {
				log.Printf("topics: swept %d stale topics", n)
			}
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	e.cron.Start()
	e.EnqueueRetention()
	return nil
}

// Stop halts the schedulers. Queued work is drained by queue.Stop.
func (e *Engine) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}

// LastRetention returns the most recent retention pass result and when
// it ran.
func (e *Engine) LastRetention() (RetentionResult, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRetention, e.lastRetentionAt
}

// PendingWindows returns the number of buffered thread windows.
func (e *Engine) PendingWindows() int {
	return e.windowCount()
}

// decodeAuditPayload tolerates both in-process payloads and JSON
// round-tripped ones.
func decodeAuditPayload(v any) (auditPayload, error) {
	switch p := v.(type) {
	case auditPayload:
		return p, nil
	case map[string]any:
		b, err := json.Marshal(p)
		if err != nil {
			return auditPayload{}, fmt.Errorf("decode audit payload: %w", err)
		}
		var out auditPayload
		if err := json.Unmarshal(b, &out); err != nil {
			return auditPayload{}, fmt.Errorf("decode audit payload: %w", err)
		}
		return out, nil
	default:
		return auditPayload{}, fmt.Errorf("decode audit payload: unexpected type %T", v)
	}
}
