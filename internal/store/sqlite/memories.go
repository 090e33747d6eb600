package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mnemo-labs/mnemo/internal/store"
)

const memoryColumns = `id, user_id, thread_id, source_thread_id, content,
	priority, confidence, tier, redaction_map, entities, repeats, thread_set,
	last_seen_at, created_at, updated_at, decayed_at, deleted_at`

// CreateMemory inserts a new memory row. Assigns a snowflake ID when
// m.ID is zero and stamps created/updated/decayed timestamps.
func (db *DB) CreateMemory(ctx context.Context, m *store.Memory) error {
	if m.ID == 0 {
		m.ID = store.NewID()
	}
	now := time.Now().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	m.DecayedAt = m.CreatedAt
	if m.LastSeenAt == 0 {
		m.LastSeenAt = m.CreatedAt
	}
	if m.Repeats < 1 {
		m.Repeats = 1
	}
	if len(m.ThreadSet) == 0 {
		m.ThreadSet = []string{m.ThreadID}
	}

	entities, err := marshalStrings(m.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	threadSet, err := marshalStrings(m.ThreadSet)
	if err != nil {
		return fmt.Errorf("marshal thread set: %w", err)
	}
	redaction, err := marshalRedaction(m.RedactionMap)
	if err != nil {
		return fmt.Errorf("marshal redaction map: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, thread_id, source_thread_id, content,
			priority, confidence, tier, redaction_map, entities, repeats, thread_set,
			last_seen_at, created_at, updated_at, decayed_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, m.ID, m.UserID, m.ThreadID, m.SourceThreadID, m.Content,
		m.Priority, m.Confidence, string(m.Tier), redaction, entities, m.Repeats, threadSet,
		m.LastSeenAt, m.CreatedAt, m.UpdatedAt, m.DecayedAt)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

// GetMemory returns a memory by ID, or store.ErrNotFound.
func (db *DB) GetMemory(ctx context.Context, id int64) (*store.Memory, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// ListMemories returns memories matching opts, newest first.
func (db *DB) ListMemories(ctx context.Context, opts store.ListOptions) ([]store.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ?`
	args := []any{opts.UserID}

	if !opts.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if opts.ThreadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, opts.ThreadID)
	}
	if opts.MinPriority > 0 {
		query += ` AND priority >= ?`
		args = append(args, opts.MinPriority)
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, opts.Offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// RecentByUser returns the most recently updated non-deleted memories.
func (db *DB) RecentByUser(ctx context.Context, userID string, limit int) ([]store.Memory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY updated_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent by user: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// RecordRecurrence bumps repeats and grows the thread set for an
// existing memory. The thread set merge happens in Go; the write is a
// single UPDATE.
func (db *DB) RecordRecurrence(ctx context.Context, id int64, threadID string, seenAt int64) error {
	m, err := db.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if !m.InThread(threadID) {
		m.ThreadSet = append(m.ThreadSet, threadID)
	}
	threadSet, err := marshalStrings(m.ThreadSet)
	if err != nil {
		return fmt.Errorf("marshal thread set: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		UPDATE memories
		SET repeats = repeats + 1, thread_set = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, threadSet, seenAt, seenAt, id)
	if err != nil {
		return fmt.Errorf("record recurrence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecallScan streams rows in recall rank order: same-thread first (when
// the query names a thread), then TIER2 < TIER1 < TIER3, then priority
// desc, then updated_at desc. Soft-deleted rows never appear.
func (db *DB) RecallScan(ctx context.Context, q store.RecallQuery, fn func(store.Memory) bool) error {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY
			CASE WHEN ? != '' AND thread_id = ? THEN 0 ELSE 1 END,
			CASE tier WHEN 'TIER2' THEN 0 WHEN 'TIER1' THEN 1 ELSE 2 END,
			priority DESC,
			updated_at DESC
		LIMIT ?
	`, q.UserID, q.ThreadID, q.ThreadID, limit)
	if err != nil {
		return fmt.Errorf("recall query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return fmt.Errorf("scan recall row: %w", err)
		}
		if !fn(*m) {
			return nil
		}
	}
	return rows.Err()
}

// RetentionCandidates returns a keyset-paginated batch of non-deleted
// memories in ID order.
func (db *DB) RetentionCandidates(ctx context.Context, afterID int64, limit int) ([]store.Memory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE id > ? AND deleted_at IS NULL
		ORDER BY id LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("retention candidates: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ApplyRetention writes priority, tier, decayed_at and deleted_at in a
// single UPDATE so concurrent readers never see a half-updated row.
func (db *DB) ApplyRetention(ctx context.Context, u store.RetentionUpdate) error {
	var deletedAt any
	if u.DeletedAt != nil {
		deletedAt = *u.DeletedAt
	}
	res, err := db.ExecContext(ctx, `
		UPDATE memories
		SET priority = ?, tier = ?, decayed_at = ?, deleted_at = ?
		WHERE id = ?
	`, u.Priority, string(u.Tier), u.DecayedAt, deletedAt, u.ID)
	if err != nil {
		return fmt.Errorf("apply retention: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Stats returns row counts for the metrics endpoint.
func (db *DB) Stats(ctx context.Context) (store.Stats, error) {
	s := store.Stats{ByTier: make(map[store.Tier]int)}

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL`).Scan(&s.Active)
	if err != nil {
		return s, fmt.Errorf("stats active: %w", err)
	}
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE deleted_at IS NOT NULL`).Scan(&s.Deleted)
	if err != nil {
		return s, fmt.Errorf("stats deleted: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM memories WHERE deleted_at IS NULL GROUP BY tier`)
	if err != nil {
		return s, fmt.Errorf("stats by tier: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return s, fmt.Errorf("scan tier count: %w", err)
		}
		s.ByTier[store.Tier(tier)] = n
	}
	return s, rows.Err()
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalRedaction(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMemory(row scannable) (*store.Memory, error) {
	var m store.Memory
	var tier string
	var redaction, entities, threadSet sql.NullString
	var deletedAt sql.NullInt64

	err := row.Scan(&m.ID, &m.UserID, &m.ThreadID, &m.SourceThreadID, &m.Content,
		&m.Priority, &m.Confidence, &tier, &redaction, &entities, &m.Repeats, &threadSet,
		&m.LastSeenAt, &m.CreatedAt, &m.UpdatedAt, &m.DecayedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	m.Tier = store.Tier(tier)
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Int64
	}
	if redaction.Valid && redaction.String != "" {
		if err := json.Unmarshal([]byte(redaction.String), &m.RedactionMap); err != nil {
			return nil, fmt.Errorf("unmarshal redaction map: %w", err)
		}
	}
	if entities.Valid && entities.String != "" {
		if err := json.Unmarshal([]byte(entities.String), &m.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
	}
	if threadSet.Valid && threadSet.String != "" {
		if err := json.Unmarshal([]byte(threadSet.String), &m.ThreadSet); err != nil {
			return nil, fmt.Errorf("unmarshal thread set: %w", err)
		}
	}
	return &m, nil
}

func scanMemoryRows(rows *sql.Rows) (*store.Memory, error) {
	return scanMemory(rows)
}

func scanMemories(rows *sql.Rows) ([]store.Memory, error) {
	var out []store.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
