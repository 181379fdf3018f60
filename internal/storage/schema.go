// Package storage provides a PostgreSQL-backed implementation of
// internal/ingest.Storage: append-only transcripts, AI analysis
// suggestions, and a read-only project lookup.
//
// Adapted from pkg/memory/postgres's single-pool-plus-Migrate shape,
// dropping the pgvector-backed L2/L3 layers — this module has no
// embedding or knowledge-graph concern.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS projects (
    id         TEXT        PRIMARY KEY,
    name       TEXT        NOT NULL,
    vocabulary TEXT[]      NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS transcripts (
    id         TEXT        PRIMARY KEY,
    user_id    TEXT        NOT NULL,
    session_id TEXT        NOT NULL,
    project_id TEXT        NOT NULL REFERENCES projects (id),
    text       TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_project_created
    ON transcripts (project_id, created_at);

CREATE TABLE IF NOT EXISTS analyses (
    id             TEXT        PRIMARY KEY,
    project_id     TEXT        NOT NULL REFERENCES projects (id),
    session_id     TEXT        NOT NULL,
    question_text  TEXT        NOT NULL,
    grounding_span TEXT        NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    dismissed      BOOLEAN     NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_analyses_project
    ON analyses (project_id);
`

// Migrate applies the schema above. Safe to call on every boot.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}
