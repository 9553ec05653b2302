package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The active-job partial unique index is what makes the one-non-terminal-job-
// per-video rule a property of the data rather than of any single process.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		owner_name TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL,
		input_path TEXT NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		parts INTEGER NOT NULL,
		profile TEXT NOT NULL,
		mode TEXT NOT NULL,
		state TEXT NOT NULL,
		error_detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS jobs_active_per_video
		ON jobs (video_id) WHERE state IN ('queued', 'running')`,
	`CREATE INDEX IF NOT EXISTS jobs_by_video ON jobs (video_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		path TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		sha256 TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (job_id, idx)
	)`,
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for i, statement := range migrations {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return nil
}
