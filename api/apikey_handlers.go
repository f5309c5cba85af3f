package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/devlens/devlens/auth"
	"github.com/devlens/devlens/db"
)

type createAPIKeyRequest struct {
	Name          string `json:"name"`
	ExpiresInDays *int   `json:"expires_in_days"`
}

type createAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	APIKey    string     `json:"api_key"`
	KeyPrefix string     `json:"key_prefix"`
	KeyLast4  string     `json:"key_last4"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type apiKeyItem struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyLast4   string     `json:"key_last4"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// handleCreateAPIKey mints a key and returns the raw secret exactly once.
func (s *Server) handleCreateAPIKey(c echo.Context) error {
	var req createAPIKeyRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}

	name := strings.TrimSpace(req.Name)
	if len(name) < 3 || len(name) > 255 {
		return apiError(http.StatusUnprocessableEntity, "API key name must be between 3 and 255 characters")
	}

	var expiresAt *time.Time
	if req.ExpiresInDays != nil {
		if *req.ExpiresInDays < 1 || *req.ExpiresInDays > 365 {
			return apiError(http.StatusUnprocessableEntity, "expires_in_days must be between 1 and 365")
		}
		at := time.Now().UTC().AddDate(0, 0, *req.ExpiresInDays)
		expiresAt = &at
	}

	issued, err := auth.IssueAPIKey()
	if err != nil {
		return err
	}

	user := currentUser(c)
	key := &db.APIKey{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      name,
		KeyPrefix: issued.Prefix,
		KeyLast4:  issued.Last4,
		KeyHash:   issued.Hash,
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateAPIKey(c.Request().Context(), key); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, createAPIKeyResponse{
		ID:        key.ID.String(),
		Name:      key.Name,
		APIKey:    issued.Raw,
		KeyPrefix: key.KeyPrefix,
		KeyLast4:  key.KeyLast4,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	})
}

// handleListAPIKeys returns the caller's keys, revoked history included.
func (s *Server) handleListAPIKeys(c echo.Context) error {
	user := currentUser(c)
	keys, err := s.store.ListAPIKeys(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}

	items := make([]apiKeyItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, apiKeyItem{
			ID:         key.ID.String(),
			Name:       key.Name,
			KeyPrefix:  key.KeyPrefix,
			KeyLast4:   key.KeyLast4,
			CreatedAt:  key.CreatedAt,
			ExpiresAt:  key.ExpiresAt,
			RevokedAt:  key.RevokedAt,
			LastUsedAt: key.LastUsedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

// handleRevokeAPIKey revokes one key owned by the caller.
func (s *Server) handleRevokeAPIKey(c echo.Context) error {
	keyID, err := uuid.Parse(c.Param("key_id"))
	if err != nil {
		return apiError(http.StatusNotFound, "API key not found")
	}

	user := currentUser(c)
	revoked, err := s.store.RevokeAPIKey(c.Request().Context(), keyID, user.ID)
	if err != nil {
		return err
	}
	if !revoked {
		return apiError(http.StatusNotFound, "API key not found")
	}
	return c.NoContent(http.StatusNoContent)
}
