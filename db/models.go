// Package db holds the relational schema and the query gateways the API and
// workers share. Everything goes through gorm with the postgres driver; the
// handful of queries that need postgres-only features (tsvector ranking, row
// claiming with SKIP LOCKED) drop to raw SQL.
package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job lifecycle statuses. Cloning is a legacy status older rows may still
// carry; dedup treats it as active.
const (
	StatusQueued    = "queued"
	StatusCloning   = "cloning"
	StatusParsing   = "parsing"
	StatusEmbedding = "embedding"
	StatusAnalyzing = "analyzing"
	StatusDone      = "done"
	StatusFailed    = "failed"
)

// ActiveStatuses are the statuses of a job that is still in flight.
var ActiveStatuses = []string{StatusQueued, StatusCloning, StatusParsing, StatusEmbedding, StatusAnalyzing}

// JSONB maps to a postgres jsonb column.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
}

// User is a GitHub-authenticated account.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	GithubID  int64     `gorm:"uniqueIndex;not null"`
	Username  string    `gorm:"size:255;not null"`
	Email     *string   `gorm:"size:255"`
	AvatarURL *string   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Repository is a tracked GitHub repository.
type Repository struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	GithubURL       string     `gorm:"type:text;uniqueIndex;not null"`
	FullName        string     `gorm:"size:255;uniqueIndex;not null"`
	Owner           string     `gorm:"size:255;not null"`
	Name            string     `gorm:"size:255;not null"`
	DefaultBranch   string     `gorm:"size:255;default:main"`
	LatestCommitSHA *string    `gorm:"column:latest_commit_sha;size:64"`
	Description     *string    `gorm:"type:text"`
	Stars           *int       ``
	Forks           *int       ``
	Language        *string    `gorm:"size:100"`
	SizeKB          *int       `gorm:"column:size_kb"`
	LastAnalyzedAt  *time.Time ``
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
}

// AnalysisJob tracks one pipeline run over a repository snapshot.
type AnalysisJob struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RepoID         *uuid.UUID `gorm:"type:uuid;index:idx_jobs_dedup,priority:1;index:idx_jobs_dedup_status,priority:1"`
	UserID         *uuid.UUID `gorm:"type:uuid"`
	IdempotencyKey *string    `gorm:"size:255;index:idx_jobs_dedup,priority:3"`
	CommitSHA      *string    `gorm:"column:commit_sha;size:64;index:idx_jobs_dedup,priority:2;index:idx_jobs_dedup_status,priority:2"`
	Status         string     `gorm:"size:50;default:queued;index:idx_jobs_retry,priority:1;index:idx_jobs_dedup_status,priority:3"`
	Progress       int        `gorm:"default:0"`
	ErrorMessage   *string    `gorm:"type:text"`
	RetryCount     int        `gorm:"default:0"`
	NextRetryAt    *time.Time `gorm:"index:idx_jobs_retry,priority:2"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index:idx_jobs_dedup_status,priority:4"`
	CompletedAt    *time.Time ``
}

// TableName keeps the historical table name.
func (AnalysisJob) TableName() string { return "analysis_jobs" }

// AnalysisResult is the output of a completed pipeline run.
type AnalysisResult struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RepoID              *uuid.UUID `gorm:"type:uuid;index:idx_results_repo_created,priority:1"`
	JobID               *uuid.UUID `gorm:"type:uuid"`
	ArchitectureSummary *string    `gorm:"type:text"`
	QualityScore        *int       ``
	LanguageBreakdown   JSONB      `gorm:"type:jsonb"`
	ContributorStats    JSONB      `gorm:"type:jsonb"`
	TechDebtFlags       JSONB      `gorm:"type:jsonb"`
	FileTree            JSONB      `gorm:"type:jsonb"`
	CacheKey            *string    `gorm:"size:512;uniqueIndex"`
	CreatedAt           time.Time  `gorm:"autoCreateTime;index:idx_results_repo_created,priority:2"`
}

// TableName keeps the historical table name.
func (AnalysisResult) TableName() string { return "analysis_results" }

// CodeChunk is a line-window slice of one source file. The fts column is
// maintained by a database trigger; gorm never writes it.
type CodeChunk struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RepoID        *uuid.UUID `gorm:"type:uuid;index:idx_chunks_repo_path,priority:1"`
	FilePath      string     `gorm:"type:text;not null;index:idx_chunks_repo_path,priority:2"`
	StartLine     *int       ``
	EndLine       *int       ``
	Content       string     `gorm:"type:text;not null"`
	Language      *string    `gorm:"size:50"`
	QdrantPointID *uuid.UUID `gorm:"type:uuid"`
	FTS           *string    `gorm:"column:fts;type:tsvector;->"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
}

// ChatSession groups the messages of one conversation about a repository.
type ChatSession struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RepoID    *uuid.UUID `gorm:"type:uuid"`
	UserID    *uuid.UUID `gorm:"type:uuid"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

// ChatMessage is one turn in a chat session. Assistant turns carry the
// citations that grounded the answer.
type ChatMessage struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SessionID       *uuid.UUID `gorm:"type:uuid;index"`
	Role            string     `gorm:"size:20;not null"`
	Content         string     `gorm:"type:text;not null"`
	SourceCitations JSONB      `gorm:"type:jsonb"`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
}

// RefreshToken stores the hash of an opaque refresh secret. Rotation revokes
// the old row and inserts a new one.
type RefreshToken struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null"`
	TokenHash string     `gorm:"size:128;uniqueIndex;not null"`
	ExpiresAt time.Time  `gorm:"not null"`
	RevokedAt *time.Time ``
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

// ShareToken is the server-side row a public share link must match.
type ShareToken struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RepoID    uuid.UUID  `gorm:"type:uuid;not null"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null"`
	ExpiresAt time.Time  `gorm:"not null"`
	RevokedAt *time.Time ``
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

// APIKey is a programmatic credential. Only the hash plus display material
// (prefix and last4) persist.
type APIKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_api_keys_user_revoked,priority:1"`
	Name       string     `gorm:"size:255;not null"`
	KeyPrefix  string     `gorm:"size:16;not null"`
	KeyLast4   string     `gorm:"column:key_last4;size:4;not null"`
	KeyHash    string     `gorm:"size:128;uniqueIndex;not null"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
	RevokedAt  *time.Time `gorm:"index:idx_api_keys_user_revoked,priority:2"`
	LastUsedAt *time.Time ``
	ExpiresAt  *time.Time ``
}

// DeadLetterJob records a pipeline run that exhausted its retries.
type DeadLetterJob struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID        uuid.UUID `gorm:"type:uuid;not null"`
	RepoID       uuid.UUID `gorm:"type:uuid;not null"`
	Stage        string    `gorm:"size:50;not null"`
	ErrorCode    string    `gorm:"size:100;not null"`
	ErrorMessage string    `gorm:"type:text;not null"`
	AttemptCount int       `gorm:"default:0"`
	Metadata     JSONB     `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}
