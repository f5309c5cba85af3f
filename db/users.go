package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UpsertUserByGithubID creates or refreshes the account row for a GitHub
// identity. Profile fields are overwritten on every login.
func (s *Store) UpsertUserByGithubID(ctx context.Context, githubID int64, username string, email, avatarURL *string) (*User, error) {
	var user User
	err := s.gdb.WithContext(ctx).Where("github_id = ?", githubID).First(&user).Error
	switch {
	case err == nil:
		user.Username = username
		user.Email = email
		user.AvatarURL = avatarURL
		if err := s.gdb.WithContext(ctx).Save(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = User{
			ID:        uuid.New(),
			GithubID:  githubID,
			Username:  username,
			Email:     email,
			AvatarURL: avatarURL,
		}
		if err := s.gdb.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	default:
		return nil, err
	}
}

// GetUser loads one account by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	if err := s.gdb.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
