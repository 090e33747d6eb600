// Package recall serves deadline-bound ranked memory reads for prompt
// assembly. A recall that runs out of time returns whatever it has
// ranked so far; it never returns an error for a deadline.
package recall

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mnemo-labs/mnemo/internal/store"
)

// Clamps for caller-supplied query parameters.
const (
	DefaultMaxItems = 5
	MinMaxItems     = 1
	MaxMaxItems     = 20

	DefaultDeadline = 30 * time.Millisecond
)

// Query is one recall request.
type Query struct {
	UserID   string
	ThreadID string        // optional; same-thread memories rank first
	MaxItems int           // clamped to [1, 20], default 5
	Deadline time.Duration // default 30ms
}

// Result is a ranked recall response. TimedOut marks a degraded result
// that hit the deadline with a partial (possibly empty) ranking.
type Result struct {
	Memories  []store.Memory `json:"memories"`
	Count     int            `json:"count"`
	ElapsedMs int64          `json:"elapsedMs"`
	TimedOut  bool           `json:"timedOut"`
}

// Service answers recall queries against the store.
type Service struct {
	store store.Store
}

// New creates a recall Service.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// Recall returns up to MaxItems memories for the user in rank order:
// same-thread first, then TIER2 before TIER1 before TIER3, then
// priority, then recency. The scan stops at the deadline and returns
// the ranked prefix collected so far.
func (s *Service) Recall(ctx context.Context, q Query) (*Result, error) {
	if q.UserID == "" {
		return nil, errors.New("recall: userID required")
	}
	limit := q.MaxItems
	if limit == 0 {
		limit = DefaultMaxItems
	}
	if limit < MinMaxItems {
		limit = MinMaxItems
	}
	if limit > MaxMaxItems {
		limit = MaxMaxItems
	}
	deadline := q.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	res := &Result{Memories: make([]store.Memory, 0, limit)}

	err := s.store.RecallScan(ctx, store.RecallQuery{
		UserID:   q.UserID,
		ThreadID: q.ThreadID,
		Limit:    limit,
	}, func(m store.Memory) bool {
		if ctx.Err() != nil {
			res.TimedOut = true
			return false
		}
		res.Memories = append(res.Memories, m)
		return len(res.Memories) < limit
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Partial results already collected stay valid.
			res.TimedOut = true
			log.Printf("recall: deadline %s hit for %s, returning %d partial", deadline, q.UserID, len(res.Memories))
		} else {
			return nil, err
		}
	}

	res.Count = len(res.Memories)
	res.ElapsedMs = time.Since(start).Milliseconds()
	return res, nil
}
