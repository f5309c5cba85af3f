package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobSnapshot is the claim a worker receives: enough to run one stage without
// further joins.
type JobSnapshot struct {
	JobID         uuid.UUID
	RepoID        uuid.UUID
	CommitSHA     string
	GithubURL     string
	FullName      string
	DefaultBranch string
	RetryCount    int
}

// CreateJob enqueues a new pipeline run. Anonymous callers pass a nil user.
func (s *Store) CreateJob(ctx context.Context, repoID uuid.UUID, userID *uuid.UUID, commitSHA string, idempotencyKey *string) (*AnalysisJob, error) {
	job := AnalysisJob{
		ID:             uuid.New(),
		RepoID:         &repoID,
		UserID:         userID,
		IdempotencyKey: idempotencyKey,
		CommitSHA:      &commitSHA,
		Status:         StatusQueued,
	}
	if err := s.gdb.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*AnalysisJob, error) {
	var job AnalysisJob
	if err := s.gdb.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// FindJobByIdempotencyKey returns the newest job matching the exact
// (repo, commit, key) triple, regardless of status.
func (s *Store) FindJobByIdempotencyKey(ctx context.Context, repoID uuid.UUID, commitSHA, key string) (*AnalysisJob, error) {
	var job AnalysisJob
	err := s.gdb.WithContext(ctx).
		Where("repo_id = ? AND commit_sha = ? AND idempotency_key = ?", repoID, commitSHA, key).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindReusableJob returns the newest job for (repo, commit) that is either
// still in flight or already done. Failed runs never dedup.
func (s *Store) FindReusableJob(ctx context.Context, repoID uuid.UUID, commitSHA string) (*AnalysisJob, error) {
	statuses := append(append([]string{}, ActiveStatuses...), StatusDone)
	var job AnalysisJob
	err := s.gdb.WithContext(ctx).
		Where("repo_id = ? AND commit_sha = ? AND status IN ?", repoID, commitSHA, statuses).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LatestJobForRepo returns the newest job of a repository regardless of
// status, or nil when the repository was never analyzed.
func (s *Store) LatestJobForRepo(ctx context.Context, repoID uuid.UUID) (*AnalysisJob, error) {
	var job AnalysisJob
	err := s.gdb.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimNextJob atomically picks the oldest job eligible for a stage and moves
// it to the stage's entry status. Eligible means the status matches and any
// retry backoff has elapsed. SKIP LOCKED keeps concurrent workers from
// claiming the same row.
func (s *Store) ClaimNextJob(ctx context.Context, eligible []string, entryStatus string, entryProgress int) (*JobSnapshot, error) {
	var snapshot *JobSnapshot
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row struct {
			JobID         uuid.UUID
			RepoID        uuid.UUID
			CommitSHA     string
			GithubURL     string
			FullName      string
			DefaultBranch string
			RetryCount    int
		}
		err := tx.Raw(`
			SELECT j.id AS job_id,
			       j.repo_id AS repo_id,
			       j.commit_sha AS commit_sha,
			       j.retry_count AS retry_count,
			       r.github_url AS github_url,
			       r.full_name AS full_name,
			       r.default_branch AS default_branch
			FROM analysis_jobs j
			JOIN repositories r ON r.id = j.repo_id
			WHERE j.status IN ?
			  AND (j.next_retry_at IS NULL OR j.next_retry_at <= NOW())
			ORDER BY j.created_at ASC
			LIMIT 1
			FOR UPDATE OF j SKIP LOCKED`, eligible).Scan(&row).Error
		if err != nil {
			return err
		}
		if row.JobID == uuid.Nil {
			return nil
		}

		if err := tx.Model(&AnalysisJob{}).
			Where("id = ?", row.JobID).
			Updates(map[string]interface{}{
				"status":        entryStatus,
				"progress":      entryProgress,
				"error_message": nil,
				"next_retry_at": nil,
			}).Error; err != nil {
			return err
		}

		snapshot = &JobSnapshot{
			JobID:         row.JobID,
			RepoID:        row.RepoID,
			CommitSHA:     row.CommitSHA,
			GithubURL:     row.GithubURL,
			FullName:      row.FullName,
			DefaultBranch: row.DefaultBranch,
			RetryCount:    row.RetryCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// UpdateJobStatus advances a job through its pipeline, clearing any pending
// retry schedule.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status string, progress int, errorMessage *string) error {
	return s.gdb.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        status,
			"progress":      progress,
			"error_message": errorMessage,
			"next_retry_at": nil,
		}).Error
}

// ScheduleJobRetry parks a job back in its stage status with a backoff
// deadline and an incremented attempt counter.
func (s *Store) ScheduleJobRetry(ctx context.Context, jobID uuid.UUID, stage string, retryCount int, nextRetryAt time.Time, errorMessage string) error {
	return s.gdb.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        stage,
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
			"error_message": errorMessage,
		}).Error
}

// FailJob terminally fails a job.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	now := time.Now().UTC()
	return s.gdb.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        StatusFailed,
			"progress":      100,
			"error_message": errorMessage,
			"next_retry_at": nil,
			"completed_at":  now,
		}).Error
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	now := time.Now().UTC()
	return s.gdb.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        StatusDone,
			"progress":      100,
			"error_message": nil,
			"next_retry_at": nil,
			"completed_at":  now,
		}).Error
}

// CreateDeadLetter records an exhausted job for operator inspection.
func (s *Store) CreateDeadLetter(ctx context.Context, entry *DeadLetterJob) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return s.gdb.WithContext(ctx).Create(entry).Error
}

// QueueDepth counts in-flight jobs, used by the readiness probe.
func (s *Store) QueueDepth(ctx context.Context) (int64, error) {
	var count int64
	err := s.gdb.WithContext(ctx).
		Model(&AnalysisJob{}).
		Where("status IN ?", ActiveStatuses).
		Count(&count).Error
	return count, err
}
