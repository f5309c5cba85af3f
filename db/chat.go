package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateChatSession opens a new conversation about a repository.
func (s *Store) CreateChatSession(ctx context.Context, repoID, userID uuid.UUID) (*ChatSession, error) {
	session := ChatSession{
		ID:     uuid.New(),
		RepoID: &repoID,
		UserID: &userID,
	}
	if err := s.gdb.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// GetChatSession loads one session scoped to its owner.
func (s *Store) GetChatSession(ctx context.Context, sessionID, userID uuid.UUID) (*ChatSession, error) {
	var session ChatSession
	err := s.gdb.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListChatSessions returns a user's sessions newest first, optionally
// filtered to one repository.
func (s *Store) ListChatSessions(ctx context.Context, userID uuid.UUID, repoID *uuid.UUID) ([]ChatSession, error) {
	query := s.gdb.WithContext(ctx).Where("user_id = ?", userID)
	if repoID != nil {
		query = query.Where("repo_id = ?", *repoID)
	}
	var sessions []ChatSession
	err := query.Order("created_at DESC").Find(&sessions).Error
	return sessions, err
}

// CountChatMessages reports how many turns a session holds.
func (s *Store) CountChatMessages(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var count int64
	err := s.gdb.WithContext(ctx).
		Model(&ChatMessage{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}

// LatestChatMessage returns a session's newest turn, or nil for an empty
// session.
func (s *Store) LatestChatMessage(ctx context.Context, sessionID uuid.UUID) (*ChatMessage, error) {
	var message ChatMessage
	err := s.gdb.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// DeleteChatSession removes a session and its messages.
func (s *Store) DeleteChatSession(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	deleted := false
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", sessionID, userID).Delete(&ChatSession{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Where("session_id = ?", sessionID).Delete(&ChatMessage{}).Error
	})
	return deleted, err
}

// CreateChatMessage appends one turn to a session.
func (s *Store) CreateChatMessage(ctx context.Context, sessionID uuid.UUID, role, content string, citations JSONB) (*ChatMessage, error) {
	message := ChatMessage{
		ID:              uuid.New(),
		SessionID:       &sessionID,
		Role:            role,
		Content:         content,
		SourceCitations: citations,
	}
	if err := s.gdb.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// ListChatMessages returns a session's turns in chronological order.
func (s *Store) ListChatMessages(ctx context.Context, sessionID uuid.UUID) ([]ChatMessage, error) {
	var messages []ChatMessage
	err := s.gdb.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}
