package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mnemo-labs/mnemo/internal/store"
)

// AppendAuditRecord inserts one append-only audit row. Audit rows are
// never updated or deleted.
func (db *DB) AppendAuditRecord(ctx context.Context, rec *store.AuditRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO audit_records (user_id, thread_id, window_start, window_end,
			msg_count, token_count, avg_score, saved_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.UserID, rec.ThreadID, rec.WindowStart, rec.WindowEnd,
		rec.MsgCount, rec.TokenCount, rec.AvgScore, rec.SavedCount, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// ListAuditRecords returns the newest audit rows for a user.
func (db *DB) ListAuditRecords(ctx context.Context, userID string, limit int) ([]store.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, thread_id, window_start, window_end,
			msg_count, token_count, avg_score, saved_count, created_at
		FROM audit_records WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var recs []store.AuditRecord
	for rows.Next() {
		var r store.AuditRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.ThreadID, &r.WindowStart, &r.WindowEnd,
			&r.MsgCount, &r.TokenCount, &r.AvgScore, &r.SavedCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
