// Package store defines the persistent memory model and the backend
// interface implemented by the sqlite and postgres stores.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// ErrNotFound is returned when a memory or audit record does not exist.
var ErrNotFound = errors.New("store: not found")

// Tier is the retention tier of a memory. The tier governs TTL, decay
// rate, and recall rank.
type Tier string

const (
	// Tier1 holds facts that recurred across threads.
	Tier1 Tier = "TIER1"
	// Tier2 holds explicit preferences and goals. Decays slowest.
	Tier2 Tier = "TIER2"
	// Tier3 holds general saved content. Decays fastest.
	Tier3 Tier = "TIER3"
)

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	return t == Tier1 || t == Tier2 || t == Tier3
}

// MaxContentLen caps memory content length, post-redaction.
const MaxContentLen = 1024

// Memory is one persisted fact distilled from a conversation window.
// Timestamps are unix milliseconds.
type Memory struct {
	ID             int64             `json:"id"`
	UserID         string            `json:"userId"`
	ThreadID       string            `json:"threadId"`
	SourceThreadID string            `json:"sourceThreadId"`
	Content        string            `json:"content"`
	Entities       []string          `json:"entities,omitempty"`
	Priority       float64           `json:"priority"`
	Confidence     float64           `json:"confidence"`
	RedactionMap   map[string]string `json:"redactionMap,omitempty"`
	Tier           Tier              `json:"tier"`
	Repeats        int               `json:"repeats"`
	ThreadSet      []string          `json:"threadSet"`
	LastSeenAt     int64             `json:"lastSeenAt"`
	CreatedAt      int64             `json:"createdAt"`
	UpdatedAt      int64             `json:"updatedAt"`
	DecayedAt      int64             `json:"-"`
	DeletedAt      *int64            `json:"deletedAt,omitempty"`
}

// Deleted reports whether the memory has been soft-deleted.
func (m *Memory) Deleted() bool {
	return m.DeletedAt != nil
}

// InThread reports whether the memory recurred in the given thread.
func (m *Memory) InThread(threadID string) bool {
	for _, t := range m.ThreadSet {
		if t == threadID {
			return true
		}
	}
	return false
}

// AuditRecord is one append-only row describing a completed audit pass
// over a conversation window. Never mutated after insert.
type AuditRecord struct {
	ID          int64   `json:"id"`
	UserID      string  `json:"userId"`
	ThreadID    string  `json:"threadId"`
	WindowStart int64   `json:"windowStart"`
	WindowEnd   int64   `json:"windowEnd"`
	MsgCount    int     `json:"msgCount"`
	TokenCount  int     `json:"tokenCount"`
	AvgScore    float64 `json:"avgScore"`
	SavedCount  int     `json:"savedCount"`
	CreatedAt   int64   `json:"createdAt"`
}

// ListOptions filters the memory listing endpoint.
type ListOptions struct {
	UserID         string
	ThreadID       string
	MinPriority    float64
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// RecallQuery describes a ranked recall read.
type RecallQuery struct {
	UserID   string
	ThreadID string // optional; same-thread rows rank first when set
	Limit    int
}

// RetentionUpdate is one atomic per-row retention write. Priority, tier
// and deleted_at land in a single UPDATE so readers never observe a
// half-updated pair.
type RetentionUpdate struct {
	ID        int64
	Priority  float64
	Tier      Tier
	DecayedAt int64
	DeletedAt *int64 // non-nil soft-deletes the row
}

// Stats summarises the store for the metrics endpoint.
type Stats struct {
	Active  int         `json:"active"`
	Deleted int         `json:"deleted"`
	ByTier  map[Tier]int `json:"byTier"`
}

// Store is the persistence backend. Implementations: sqlite (default)
// and postgres.
type Store interface {
	// CreateMemory inserts a new memory. Assigns an ID when m.ID is zero.
	CreateMemory(ctx context.Context, m *Memory) error

	// GetMemory returns a memory by ID, or ErrNotFound.
	GetMemory(ctx context.Context, id int64) (*Memory, error)

	// ListMemories returns memories matching opts, newest first.
	ListMemories(ctx context.Context, opts ListOptions) ([]Memory, error)

	// RecentByUser returns the most recently updated non-deleted memories
	// for a user. Used by recurrence detection during audits.
	RecentByUser(ctx context.Context, userID string, limit int) ([]Memory, error)

	// RecordRecurrence bumps repeats, adds threadID to the thread set and
	// refreshes last_seen_at/updated_at for an existing memory.
	RecordRecurrence(ctx context.Context, id int64, threadID string, seenAt int64) error

	// RecallScan streams memories for q in recall rank order:
	// same-thread first (when q.ThreadID is set), then TIER2 < TIER1 <
	// TIER3, then priority desc, then updated_at desc. Soft-deleted rows
	// are excluded. fn returning false stops the scan early.
	RecallScan(ctx context.Context, q RecallQuery, fn func(Memory) bool) error

	// RetentionCandidates returns up to limit non-deleted memories with
	// ID greater than afterID, in ID order. Keyset pagination keeps the
	// retention pass in bounded sub-batches.
	RetentionCandidates(ctx context.Context, afterID int64, limit int) ([]Memory, error)

	// ApplyRetention writes one retention result row atomically.
	ApplyRetention(ctx context.Context, u RetentionUpdate) error

	// AppendAuditRecord inserts one append-only audit row.
	AppendAuditRecord(ctx context.Context, rec *AuditRecord) error

	// ListAuditRecords returns the newest audit rows for a user.
	ListAuditRecords(ctx context.Context, userID string, limit int) ([]AuditRecord, error)

	// Stats returns row counts for metrics.
	Stats(ctx context.Context) (Stats, error)

	Ping() error
	Close() error
}

var (
	idNode *snowflake.Node
	idOnce sync.Once
)

// NewID returns a new snowflake memory ID. Snowflake IDs are int64 and
// time-ordered, which keeps them friendly to INTEGER primary keys.
func NewID() int64 {
	idOnce.Do(func() {
		n, err := snowflake.NewNode(1)
		if err != nil {
			panic(err) // only possible with an out-of-range node number
		}
		idNode = n
	})
	return idNode.Generate().Int64()
}
