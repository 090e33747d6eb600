package engine

import (
	"context"
	"log"
	"time"

	"github.com/mnemo-labs/mnemo/internal/store"
)

// Per-tier retention policy. TIER2 decays slowest (durable preferences),
// TIER3 fastest.
var (
	decayPerWeek = map[store.Tier]float64{
		store.Tier1: 0.01,
		store.Tier2: 0.005,
		store.Tier3: 0.02,
	}
	tierTTL = map[store.Tier]time.Duration{
		store.Tier1: 120 * 24 * time.Hour,
		store.Tier2: 365 * 24 * time.Hour,
		store.Tier3: 90 * 24 * time.Hour,
	}
	priorityFloor = map[store.Tier]float64{
		store.Tier1: 0.35,
		store.Tier2: 0.50,
		store.Tier3: 0.30,
	}
)

const week = 7 * 24 * time.Hour

// RetentionResult counts what one retention pass did.
type RetentionResult struct {
	Decayed  int `json:"decayed"`
	Expired  int `json:"expired"`
	Promoted int `json:"promoted"`
	Demoted  int `json:"demoted"`
}

// RunRetention applies one decay/expiry/promotion/demotion pass over
// all non-deleted memories. Rows are processed in keyset-paginated
// sub-batches paced by the engine's rate limiter so a long pass never
// starves concurrent recall reads. Per-row storage errors are logged
// and skipped; the pass continues.
func (e *Engine) RunRetention(ctx context.Context) (RetentionResult, error) {
	var res RetentionResult
	now := time.Now()
	afterID := int64(0)

	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return res, err
		}

		batch, err := e.store.RetentionCandidates(ctx, afterID, e.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			m := &batch[i]
			afterID = m.ID

			u, outcome := e.retainRow(m, now)
			if u == nil {
				continue
			}
			if err := e.store.ApplyRetention(ctx, *u); err != nil {
				log.Printf("retention: memory %d: %v", m.ID, err)
				continue
			}
			res.Decayed += outcome.Decayed
			res.Expired += outcome.Expired
			res.Promoted += outcome.Promoted
			res.Demoted += outcome.Demoted
		}

		if len(batch) < e.cfg.BatchSize {
			break
		}
	}

	e.mu.Lock()
	e.lastRetention = res
	e.lastRetentionAt = now
	e.mu.Unlock()

	log.Printf("retention: decayed=%d expired=%d promoted=%d demoted=%d",
		res.Decayed, res.Expired, res.Promoted, res.Demoted)
	return res, nil
}

// retainRow computes the retention outcome for one row. Returns nil
// when the row needs no write. Priority, tier and deletion land in one
// RetentionUpdate so the store can apply them atomically.
func (e *Engine) retainRow(m *store.Memory, now time.Time) (*store.RetentionUpdate, *RetentionResult) {
	var out RetentionResult
	changed := false

	// 1. Decay since the last retention touch. Sub-microscopic decay is
	// skipped so back-to-back passes don't rewrite every row.
	priority := m.Priority
	weeks := now.Sub(time.UnixMilli(m.DecayedAt)).Hours() / week.Hours()
	if amount := decayPerWeek[m.Tier] * weeks; amount > 1e-6 {
		priority -= amount
		if priority < 0 {
			priority = 0
		}
		out.Decayed = 1
		changed = true
	}

	u := store.RetentionUpdate{
		ID:        m.ID,
		Priority:  priority,
		Tier:      m.Tier,
		DecayedAt: now.UnixMilli(),
	}

	// 2. Expiry by tier TTL, measured from creation.
	if now.Sub(time.UnixMilli(m.CreatedAt)) > tierTTL[m.Tier] {
		deletedAt := now.UnixMilli()
		u.DeletedAt = &deletedAt
		out.Expired = 1
		return &u, &out
	}

	// 3/4. Promotion and demotion are mutually exclusive per pass;
	// promotion wins when both would fire.
	switch {
	case m.Tier == store.Tier3 && len(m.ThreadSet) >= 2 && m.Repeats >= e.cfg.PromoteRepeats:
		u.Tier = store.Tier1
		out.Promoted = 1
		changed = true
	case m.Tier != store.Tier3 && priority < priorityFloor[m.Tier]:
		u.Tier = store.Tier3
		out.Demoted = 1
		changed = true
	}

	if !changed {
		return nil, nil
	}
	return &u, &out
}
