package sqlite

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: tiered long-term memory rows",
		SQL: `
CREATE TABLE memories (
    id               INTEGER PRIMARY KEY,
    user_id          TEXT NOT NULL,
    thread_id        TEXT NOT NULL,
    source_thread_id TEXT NOT NULL,
    content          TEXT NOT NULL CHECK (length(content) <= 1024),

    -- Scoring
    priority         REAL NOT NULL CHECK (priority >= 0.0 AND priority <= 1.0),
    confidence       REAL NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),

    -- Classification
    tier             TEXT NOT NULL CHECK (tier IN ('TIER1', 'TIER2', 'TIER3')),

    -- Redaction
    redaction_map    TEXT,

    -- Recurrence
    entities         TEXT,
    repeats          INTEGER NOT NULL DEFAULT 1 CHECK (repeats >= 1),
    thread_set       TEXT NOT NULL DEFAULT '[]',
    last_seen_at     INTEGER NOT NULL,

    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    decayed_at       INTEGER NOT NULL,
    deleted_at       INTEGER
);

CREATE INDEX idx_memories_user     ON memories(user_id, deleted_at);
CREATE INDEX idx_memories_thread   ON memories(user_id, thread_id);
CREATE INDEX idx_memories_tier     ON memories(tier);
CREATE INDEX idx_memories_updated  ON memories(updated_at DESC);
`,
	},
	{
		Version:     2,
		Description: "audit_records: append-only audit trail",
		SQL: `
CREATE TABLE audit_records (
    id           INTEGER PRIMARY KEY,
    user_id      TEXT NOT NULL,
    thread_id    TEXT NOT NULL,
    window_start INTEGER NOT NULL,
    window_end   INTEGER NOT NULL,
    msg_count    INTEGER NOT NULL,
    token_count  INTEGER NOT NULL,
    avg_score    REAL NOT NULL,
    saved_count  INTEGER NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_audit_user    ON audit_records(user_id, created_at DESC);
CREATE INDEX idx_audit_created ON audit_records(created_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
