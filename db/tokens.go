package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StoreRefreshToken persists the hash of a freshly issued refresh secret.
func (s *Store) StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (*RefreshToken, error) {
	token := RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
	}
	if err := s.gdb.WithContext(ctx).Create(&token).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

// FindActiveRefreshToken resolves a presented secret's hash to its row,
// returning nil when the row is missing, revoked or expired.
func (s *Store) FindActiveRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var token RefreshToken
	err := s.gdb.WithContext(ctx).
		Where("token_hash = ? AND revoked_at IS NULL AND expires_at > NOW()", tokenHash).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// GetRefreshTokenByHash loads a refresh row regardless of state so the
// handler can distinguish an unknown secret from an expired one.
func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var token RefreshToken
	err := s.gdb.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// RevokeRefreshToken marks one refresh row revoked. Rotation calls this for
// the old row before storing the replacement.
func (s *Store) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.gdb.WithContext(ctx).
		Model(&RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", now).Error
}

// CreateShareTokenRow persists the server-side half of a share link.
func (s *Store) CreateShareTokenRow(ctx context.Context, repoID, userID uuid.UUID, expiresAt time.Time) (*ShareToken, error) {
	token := ShareToken{
		ID:        uuid.New(),
		RepoID:    repoID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	if err := s.gdb.WithContext(ctx).Create(&token).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

// GetShareTokenRow loads one share row by id, or nil.
func (s *Store) GetShareTokenRow(ctx context.Context, id uuid.UUID) (*ShareToken, error) {
	var token ShareToken
	err := s.gdb.WithContext(ctx).First(&token, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// RevokeShareToken revokes a share row, scoped to the user who minted it.
// Returns false when no matching active row exists.
func (s *Store) RevokeShareToken(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	result := s.gdb.WithContext(ctx).
		Model(&ShareToken{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", id, userID).
		Update("revoked_at", now)
	return result.RowsAffected > 0, result.Error
}

// CreateAPIKey persists a freshly minted key's hash and display material.
func (s *Store) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	return s.gdb.WithContext(ctx).Create(key).Error
}

// ListAPIKeys returns a user's keys, newest first, revoked included so the
// UI can show history.
func (s *Store) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]APIKey, error) {
	var keys []APIKey
	err := s.gdb.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

// RevokeAPIKey revokes one key, scoped to its owner. Returns false when no
// matching active key exists.
func (s *Store) RevokeAPIKey(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	result := s.gdb.WithContext(ctx).
		Model(&APIKey{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", id, userID).
		Update("revoked_at", now)
	return result.RowsAffected > 0, result.Error
}

// FindActiveAPIKey resolves a presented key's hash to its row, returning nil
// when the key is unknown, revoked or expired.
func (s *Store) FindActiveAPIKey(ctx context.Context, keyHash string) (*APIKey, error) {
	var key APIKey
	err := s.gdb.WithContext(ctx).
		Where("key_hash = ? AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > NOW())", keyHash).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// TouchAPIKeyUsage stamps a key's last use. Best effort; callers ignore the
// error.
func (s *Store) TouchAPIKeyUsage(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.gdb.WithContext(ctx).
		Model(&APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", now).Error
}
