package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the job pipeline tables. Applied idempotently at
// worker startup; a real deployment would run it through a migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    status            TEXT NOT NULL,
    source_key        TEXT NOT NULL DEFAULT '',
    final_key         TEXT NOT NULL DEFAULT '',
    prompt            TEXT NOT NULL DEFAULT '',
    batch_id          TEXT,
    batch_pos         INT NOT NULL DEFAULT 0,
    analysis_provider TEXT,
    editing_provider  TEXT,
    error_message     TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON jobs (batch_id) WHERE batch_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS batch_jobs (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    shared_prompt   TEXT NOT NULL DEFAULT '',
    total_count     INT NOT NULL,
    completed_count INT NOT NULL DEFAULT 0,
    failed_count    INT NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT batch_counts_bounded CHECK (completed_count + failed_count <= total_count)
);

CREATE TABLE IF NOT EXISTS queue_messages (
    id            TEXT PRIMARY KEY,
    job_id        TEXT NOT NULL,
    trace_id      TEXT NOT NULL DEFAULT '',
    receive_count INT NOT NULL DEFAULT 0,
    enqueued_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    locked_until  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS queue_dead_letters (
    id            TEXT PRIMARY KEY,
    job_id        TEXT NOT NULL,
    trace_id      TEXT NOT NULL DEFAULT '',
    receive_count INT NOT NULL,
    enqueued_at   TIMESTAMPTZ NOT NULL,
    dead_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("repo: apply schema: %w", err)
	}
	return nil
}
