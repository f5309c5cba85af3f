package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UpsertRepository creates or refreshes the row keyed by github_url. Metadata
// fields and the latest commit are overwritten from the incoming snapshot.
func (s *Store) UpsertRepository(ctx context.Context, snapshot *Repository) (*Repository, error) {
	var repo Repository
	err := s.gdb.WithContext(ctx).Where("github_url = ?", snapshot.GithubURL).First(&repo).Error
	switch {
	case err == nil:
		repo.FullName = snapshot.FullName
		repo.Owner = snapshot.Owner
		repo.Name = snapshot.Name
		repo.DefaultBranch = snapshot.DefaultBranch
		repo.LatestCommitSHA = snapshot.LatestCommitSHA
		repo.Description = snapshot.Description
		repo.Stars = snapshot.Stars
		repo.Forks = snapshot.Forks
		repo.Language = snapshot.Language
		repo.SizeKB = snapshot.SizeKB
		if err := s.gdb.WithContext(ctx).Save(&repo).Error; err != nil {
			return nil, err
		}
		return &repo, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		repo = *snapshot
		if repo.ID == uuid.Nil {
			repo.ID = uuid.New()
		}
		if err := s.gdb.WithContext(ctx).Create(&repo).Error; err != nil {
			return nil, err
		}
		return &repo, nil
	default:
		return nil, err
	}
}

// GetRepository loads one repository by id.
func (s *Store) GetRepository(ctx context.Context, id uuid.UUID) (*Repository, error) {
	var repo Repository
	if err := s.gdb.WithContext(ctx).First(&repo, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &repo, nil
}

// TouchLastAnalyzed stamps the repository after a pipeline run completes.
func (s *Store) TouchLastAnalyzed(ctx context.Context, repoID uuid.UUID, at time.Time) error {
	return s.gdb.WithContext(ctx).
		Model(&Repository{}).
		Where("id = ?", repoID).
		Update("last_analyzed_at", at).Error
}
