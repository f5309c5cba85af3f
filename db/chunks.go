package db

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LexicalHit is one row of a full-text search over code chunks.
type LexicalHit struct {
	ChunkID   uuid.UUID `gorm:"column:chunk_id"`
	FilePath  string    `gorm:"column:file_path"`
	StartLine *int      `gorm:"column:start_line"`
	EndLine   *int      `gorm:"column:end_line"`
	Language  *string   `gorm:"column:language"`
	Score     float64   `gorm:"column:score"`
}

// ReplaceChunks swaps a repository's chunk set in one transaction so readers
// never observe a partial parse. The fts column is filled by the insert
// trigger.
func (s *Store) ReplaceChunks(ctx context.Context, repoID uuid.UUID, chunks []CodeChunk) error {
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("repo_id = ?", repoID).Delete(&CodeChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 500).Error
	})
}

// ChunksByRepo returns all chunks of a repository in file order.
func (s *Store) ChunksByRepo(ctx context.Context, repoID uuid.UUID) ([]CodeChunk, error) {
	var chunks []CodeChunk
	err := s.gdb.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("file_path ASC, start_line ASC").
		Find(&chunks).Error
	return chunks, err
}

// ChunksByIDs hydrates the chunks behind a set of vector hits, scoped to one
// repository.
func (s *Store) ChunksByIDs(ctx context.Context, repoID uuid.UUID, ids []uuid.UUID) ([]CodeChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var chunks []CodeChunk
	err := s.gdb.WithContext(ctx).
		Where("repo_id = ? AND id IN ?", repoID, ids).
		Find(&chunks).Error
	return chunks, err
}

// CountChunks reports how many chunks a repository currently has.
func (s *Store) CountChunks(ctx context.Context, repoID uuid.UUID) (int64, error) {
	var count int64
	err := s.gdb.WithContext(ctx).
		Model(&CodeChunk{}).
		Where("repo_id = ?", repoID).
		Count(&count).Error
	return count, err
}

// ChunkPointID pairs a chunk with the vector point that now represents it.
type ChunkPointID struct {
	ChunkID uuid.UUID
	PointID uuid.UUID
}

// SetChunkPointIDs records the vector point ids assigned during embedding.
func (s *Store) SetChunkPointIDs(ctx context.Context, pairs []ChunkPointID) error {
	if len(pairs) == 0 {
		return nil
	}
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pair := range pairs {
			if err := tx.Model(&CodeChunk{}).
				Where("id = ?", pair.ChunkID).
				Update("qdrant_point_id", pair.PointID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DistinctFilePaths returns up to limit distinct chunked file paths of a
// repository in lexical order.
func (s *Store) DistinctFilePaths(ctx context.Context, repoID uuid.UUID, limit int) ([]string, error) {
	if limit < 1 {
		limit = 1
	}
	var paths []string
	err := s.gdb.WithContext(ctx).
		Model(&CodeChunk{}).
		Distinct("file_path").
		Where("repo_id = ?", repoID).
		Order("file_path ASC").
		Limit(limit).
		Pluck("file_path", &paths).Error
	return paths, err
}

// LexicalSearch ranks a repository's chunks against a plain-language query
// with ts_rank_cd over the trigger-maintained tsvector. Limit is clamped to
// [1, 100]; ties break on file path then start line.
func (s *Store) LexicalSearch(ctx context.Context, repoID uuid.UUID, query string, limit int) ([]LexicalHit, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	var hits []LexicalHit
	err := s.gdb.WithContext(ctx).Raw(`
		SELECT id AS chunk_id,
		       file_path,
		       start_line,
		       end_line,
		       language,
		       ts_rank_cd(fts, plainto_tsquery('english', ?)) AS score
		FROM code_chunks
		WHERE repo_id = ?
		  AND fts @@ plainto_tsquery('english', ?)
		ORDER BY score DESC, file_path ASC, start_line ASC NULLS LAST
		LIMIT ?`, query, repoID, query, limit).Scan(&hits).Error
	return hits, err
}
