package ingest

import (
	"context"
	"time"
)

// TranscriptRow is the external collaborator record for one persisted
// transcript. DB schema, migrations, and CRUD are out of scope; the
// core only needs append + an ordered read.
type TranscriptRow struct {
	ID        TranscriptId
	User      UserId
	Session   SessionId
	Project   ProjectId
	Text      string
	CreatedAt time.Time
}

// AnalysisRecord is the persisted form of one AIResult suggestion.
type AnalysisRecord struct {
	ID            AnalysisId
	Project       ProjectId
	Session       SessionId
	QuestionText  string
	GroundingSpan string
	CreatedAt     time.Time
	Dismissed     bool
}

// ProjectRecord is the minimal project shape needed for the
// project_metadata message and the upgrade protocol's project-exists
// check.
type ProjectRecord struct {
	ID   ProjectId
	Name string

	// Vocabulary is the project's known proper-noun/domain-term list,
	// consulted by VocabularyCorrector to rewrite STT output before
	// persistence. Empty when the project has none configured.
	Vocabulary []string
}

// Storage is the external storage contract the core depends on. Schema
// management and the concrete implementation (internal/storage, pgx-backed)
// live outside this package.
type Storage interface {
	AppendTranscript(ctx context.Context, user UserId, session SessionId, project ProjectId, text string) (TranscriptId, error)
	TranscriptsForProject(ctx context.Context, project ProjectId) ([]TranscriptRow, error)
	SaveAnalysis(ctx context.Context, rec AnalysisRecord) error
	DismissAnalysis(ctx context.Context, id AnalysisId) error
	LookupProject(ctx context.Context, project ProjectId) (ProjectRecord, bool, error)
}
