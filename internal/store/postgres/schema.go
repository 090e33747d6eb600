package postgres

// Schema is the base PostgreSQL schema. All statements are idempotent so
// the schema can be re-applied on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id               BIGINT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    thread_id        TEXT NOT NULL,
    source_thread_id TEXT NOT NULL,
    content          TEXT NOT NULL CHECK (length(content) <= 1024),

    priority         DOUBLE PRECISION NOT NULL CHECK (priority >= 0.0 AND priority <= 1.0),
    confidence       DOUBLE PRECISION NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),
    tier             TEXT NOT NULL CHECK (tier IN ('TIER1', 'TIER2', 'TIER3')),

    redaction_map    JSONB,
    entities         JSONB,
    repeats          INTEGER NOT NULL DEFAULT 1 CHECK (repeats >= 1),
    thread_set       JSONB NOT NULL DEFAULT '[]'::jsonb,
    last_seen_at     BIGINT NOT NULL,

    created_at       BIGINT NOT NULL,
    updated_at       BIGINT NOT NULL,
    decayed_at       BIGINT NOT NULL,
    deleted_at       BIGINT
);

CREATE INDEX IF NOT EXISTS idx_memories_user    ON memories(user_id, deleted_at);
CREATE INDEX IF NOT EXISTS idx_memories_thread  ON memories(user_id, thread_id);
CREATE INDEX IF NOT EXISTS idx_memories_tier    ON memories(tier);
CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at DESC);

CREATE TABLE IF NOT EXISTS audit_records (
    id           BIGSERIAL PRIMARY KEY,
    user_id      TEXT NOT NULL,
    thread_id    TEXT NOT NULL,
    window_start BIGINT NOT NULL,
    window_end   BIGINT NOT NULL,
    msg_count    INTEGER NOT NULL,
    token_count  INTEGER NOT NULL,
    avg_score    DOUBLE PRECISION NOT NULL,
    saved_count  INTEGER NOT NULL,
    created_at   BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_user    ON audit_records(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_records(created_at DESC);
`
