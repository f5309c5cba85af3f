package worker

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devlens/devlens/db"
)

// IsRetriableError reports whether a stage failure is worth another attempt.
// Timeouts always are; upsert failures only during embedding; clone failures
// only during parsing; unexpected errors always, since they may be
// environmental.
func IsRetriableError(stage, errorCode string) bool {
	if strings.HasSuffix(errorCode, "TIMEOUT") {
		return true
	}
	if stage == StageEmbedding && errorCode == "EMBED_UPSERT_FAILED" {
		return true
	}
	if stage == StageParsing && (errorCode == "CLONE_FAILED" || errorCode == "CLONE_TIMEOUT") {
		return true
	}
	if strings.HasPrefix(errorCode, "UNEXPECTED_") {
		return true
	}
	return false
}

// RetryDelay computes the exponential backoff before the given attempt.
func RetryDelay(baseDelay time.Duration, retryCount int) time.Duration {
	return baseDelay * time.Duration(math.Pow(2, float64(retryCount)))
}

// Reliability decides between rescheduling a failed job and dead-lettering
// it once the retry budget is spent.
type Reliability struct {
	store       *db.Store
	maxAttempts int
	baseDelay   time.Duration
	log         *logrus.Entry
}

// NewReliability builds the retry policy shared by all stages.
func NewReliability(store *db.Store, maxAttempts, baseDelaySeconds int, log *logrus.Entry) *Reliability {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &Reliability{
		store:       store,
		maxAttempts: maxAttempts,
		baseDelay:   time.Duration(baseDelaySeconds) * time.Second,
		log:         log,
	}
}

// HandleFailure reschedules the job into its stage with backoff when the
// error is retriable and attempts remain; otherwise it fails the job and
// records a dead letter row.
func (r *Reliability) HandleFailure(ctx context.Context, jobID, repoID uuid.UUID, stage string, se *StageError, metadata db.JSONB) {
	retryCount := 0
	if job, err := r.store.GetJob(ctx, jobID); err == nil {
		retryCount = job.RetryCount
	} else {
		r.log.WithError(err).WithField("job_id", jobID).Warn("could not load retry count, assuming zero")
	}

	stored := se.Code + ": " + se.Message
	fields := logrus.Fields{
		"job_id":     jobID,
		"stage":      stage,
		"error_code": se.Code,
	}

	if IsRetriableError(stage, se.Code) && retryCount < r.maxAttempts {
		nextRetryAt := time.Now().UTC().Add(RetryDelay(r.baseDelay, retryCount))
		if err := r.store.ScheduleJobRetry(ctx, jobID, stage, retryCount+1, nextRetryAt, stored); err != nil {
			r.log.WithError(err).WithFields(fields).Error("failed to schedule retry")
			return
		}
		r.log.WithFields(fields).WithField("next_retry_at", nextRetryAt).Info("stage failed, retry scheduled")
		return
	}

	if err := r.store.FailJob(ctx, jobID, stored); err != nil {
		r.log.WithError(err).WithFields(fields).Error("failed to mark job failed")
		return
	}
	if metadata == nil {
		metadata = db.JSONB{}
	}
	entry := &db.DeadLetterJob{
		JobID:        jobID,
		RepoID:       repoID,
		Stage:        stage,
		ErrorCode:    se.Code,
		ErrorMessage: se.Message,
		AttemptCount: retryCount,
		Metadata:     metadata,
	}
	if err := r.store.CreateDeadLetter(ctx, entry); err != nil {
		r.log.WithError(err).WithFields(fields).Error("failed to record dead letter")
		return
	}
	r.log.WithFields(fields).Warn("retry budget exhausted, job dead-lettered")
}
