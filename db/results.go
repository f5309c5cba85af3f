package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateResult stores the output of a completed pipeline run.
func (s *Store) CreateResult(ctx context.Context, result *AnalysisResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	return s.gdb.WithContext(ctx).Create(result).Error
}

// SaveResultForJob upserts the analysis output keyed by job id, falling back
// to the cache key, so a retried stage or a forced re-analysis of the same
// commit overwrites the earlier row instead of duplicating.
func (s *Store) SaveResultForJob(ctx context.Context, result *AnalysisResult) error {
	var existing *AnalysisResult
	var err error
	if result.JobID != nil {
		existing, err = s.ResultForJob(ctx, *result.JobID)
		if err != nil {
			return err
		}
	}
	if existing == nil && result.CacheKey != nil {
		existing, err = s.resultByCacheKey(ctx, *result.CacheKey)
		if err != nil {
			return err
		}
	}
	if existing == nil {
		return s.CreateResult(ctx, result)
	}
	return s.gdb.WithContext(ctx).
		Model(&AnalysisResult{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"job_id":               result.JobID,
			"cache_key":            result.CacheKey,
			"architecture_summary": result.ArchitectureSummary,
			"quality_score":        result.QualityScore,
			"language_breakdown":   result.LanguageBreakdown,
			"contributor_stats":    result.ContributorStats,
			"tech_debt_flags":      result.TechDebtFlags,
			"file_tree":            result.FileTree,
		}).Error
}

func (s *Store) resultByCacheKey(ctx context.Context, key string) (*AnalysisResult, error) {
	var result AnalysisResult
	err := s.gdb.WithContext(ctx).
		Where("cache_key = ?", key).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// LatestResult returns the newest analysis result for a repository, or nil
// when none exists yet.
func (s *Store) LatestResult(ctx context.Context, repoID uuid.UUID) (*AnalysisResult, error) {
	var result AnalysisResult
	err := s.gdb.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("created_at DESC").
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ResultForJob returns the result a specific run produced, or nil.
func (s *Store) ResultForJob(ctx context.Context, jobID uuid.UUID) (*AnalysisResult, error) {
	var result AnalysisResult
	err := s.gdb.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at DESC").
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
