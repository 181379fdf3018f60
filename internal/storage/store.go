package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/ingestd/internal/ingest"
)

// Store implements ingest.Storage backed by a single pgxpool.Pool,
// grounded on pkg/memory/postgres.Store's pool-plus-Migrate
// construction (minus that package's pgvector AfterConnect hook, which
// this module has no use for).
type Store struct {
	pool *pgxpool.Pool
}

var _ ingest.Storage = (*Store)(nil)

// NewStore connects to dsn, runs Migrate, and returns a ready Store.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping reports whether the database connection is reachable, for use as
// a readiness check.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) AppendTranscript(ctx context.Context, user ingest.UserId, session ingest.SessionId, project ingest.ProjectId, text string) (ingest.TranscriptId, error) {
	id := ingest.NewTranscriptId()
	const q = `
		INSERT INTO transcripts (id, user_id, session_id, project_id, text)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, q, id.String(), user.String(), session.String(), project.String(), text); err != nil {
		return ingest.TranscriptId{}, fmt.Errorf("storage: append transcript: %w", err)
	}
	return id, nil
}

func (s *Store) TranscriptsForProject(ctx context.Context, project ingest.ProjectId) ([]ingest.TranscriptRow, error) {
	const q = `
		SELECT id, user_id, session_id, project_id, text, created_at
		FROM   transcripts
		WHERE  project_id = $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, project.String())
	if err != nil {
		return nil, fmt.Errorf("storage: transcripts for project: %w", err)
	}
	defer rows.Close()

	var out []ingest.TranscriptRow
	for rows.Next() {
		var idStr, userStr, sessionStr, projectStr, text string
		var createdAt time.Time
		if err := rows.Scan(&idStr, &userStr, &sessionStr, &projectStr, &text, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan transcript: %w", err)
		}
		row, err := decodeTranscriptRow(idStr, userStr, sessionStr, projectStr, text, createdAt)
		if err != nil {
			return nil, fmt.Errorf("storage: decode transcript row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: transcripts for project: %w", err)
	}
	return out, nil
}

func decodeTranscriptRow(idStr, userStr, sessionStr, projectStr, text string, createdAt time.Time) (ingest.TranscriptRow, error) {
	id, err := ingest.ParseTranscriptId(idStr)
	if err != nil {
		return ingest.TranscriptRow{}, err
	}
	user, err := ingest.ParseUserId(userStr)
	if err != nil {
		return ingest.TranscriptRow{}, err
	}
	session, err := ingest.ParseSessionId(sessionStr)
	if err != nil {
		return ingest.TranscriptRow{}, err
	}
	project, err := ingest.ParseProjectId(projectStr)
	if err != nil {
		return ingest.TranscriptRow{}, err
	}
	return ingest.TranscriptRow{ID: id, User: user, Session: session, Project: project, Text: text, CreatedAt: createdAt}, nil
}

func (s *Store) SaveAnalysis(ctx context.Context, rec ingest.AnalysisRecord) error {
	const q = `
		INSERT INTO analyses (id, project_id, session_id, question_text, grounding_span)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, q, rec.ID.String(), rec.Project.String(), rec.Session.String(), rec.QuestionText, rec.GroundingSpan)
	if err != nil {
		return fmt.Errorf("storage: save analysis: %w", err)
	}
	return nil
}

func (s *Store) DismissAnalysis(ctx context.Context, id ingest.AnalysisId) error {
	const q = `UPDATE analyses SET dismissed = true WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id.String())
	if err != nil {
		return fmt.Errorf("storage: dismiss analysis: %w", err)
	}
	return nil
}

// CreateProject inserts a project row. Project CRUD is out of scope for
// the ingest core; this exists only so cmd/ingestd and
// tests have a way to seed the one row LookupProject reads. vocabulary
// may be nil or empty when the project has no known proper-noun list.
func (s *Store) CreateProject(ctx context.Context, name string, vocabulary []string) (ingest.ProjectId, error) {
	id := ingest.NewProjectId()
	const q = `INSERT INTO projects (id, name, vocabulary) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, id.String(), name, vocabulary); err != nil {
		return ingest.ProjectId{}, fmt.Errorf("storage: create project: %w", err)
	}
	return id, nil
}

func (s *Store) LookupProject(ctx context.Context, project ingest.ProjectId) (ingest.ProjectRecord, bool, error) {
	const q = `SELECT id, name, vocabulary FROM projects WHERE id = $1`
	var id, name string
	var vocabulary []string
	err := s.pool.QueryRow(ctx, q, project.String()).Scan(&id, &name, &vocabulary)
	if err == pgx.ErrNoRows {
		return ingest.ProjectRecord{}, false, nil
	}
	if err != nil {
		return ingest.ProjectRecord{}, false, fmt.Errorf("storage: lookup project: %w", err)
	}
	return ingest.ProjectRecord{ID: project, Name: name, Vocabulary: vocabulary}, true, nil
}
