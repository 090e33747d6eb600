package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/mnemo-labs/mnemo/internal/store"
)

func TestAppendAuditRecord(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	rec := &store.AuditRecord{
		UserID:      "u1",
		ThreadID:    "t1",
		WindowStart: now - 60_000,
		WindowEnd:   now,
		MsgCount:    6,
		TokenCount:  420,
		AvgScore:    0.43,
		SavedCount:  2,
	}
	if err := db.AppendAuditRecord(ctx, rec); err != nil {
		t.Fatalf("AppendAuditRecord: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if rec.CreatedAt == 0 {
		t.Error("expected created_at to be stamped")
	}
}

func TestListAuditRecordsNewestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		rec := &store.AuditRecord{
			UserID:    "u1",
			ThreadID:  "t1",
			MsgCount:  i + 1,
			CreatedAt: base + int64(i*1000),
		}
		if err := db.AppendAuditRecord(ctx, rec); err != nil {
			t.Fatalf("AppendAuditRecord: %v", err)
		}
	}
	other := &store.AuditRecord{UserID: "u2", ThreadID: "t1", MsgCount: 9}
	if err := db.AppendAuditRecord(ctx, other); err != nil {
		t.Fatalf("AppendAuditRecord: %v", err)
	}

	recs, err := db.ListAuditRecords(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].MsgCount != 3 {
		t.Errorf("newest first: msg_count = %d, want 3", recs[0].MsgCount)
	}

	recs, _ = db.ListAuditRecords(ctx, "u1", 2)
	if len(recs) != 2 {
		t.Errorf("limit: got %d, want 2", len(recs))
	}
}

func TestListAuditRecordsEmpty(t *testing.T) {
	db := testDB(t)

	recs, err := db.ListAuditRecords(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}
