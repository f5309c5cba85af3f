package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/devlens/devlens/auth"
	"github.com/devlens/devlens/db"
)

type createShareRequest struct {
	TTLDays *int `json:"ttl_days"`
}

// handleCreateShare mints a public share link for a repository's latest
// analysis. The signed token and the persisted row must both validate when
// the link is resolved.
func (s *Server) handleCreateShare(c echo.Context) error {
	repoID, err := uuid.Parse(c.Param("repo_id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "Invalid repo_id")
	}

	var req createShareRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}
	ttlDays := s.cfg.ShareTokenTTLDays
	if req.TTLDays != nil {
		if *req.TTLDays < 1 || *req.TTLDays > 30 {
			return apiError(http.StatusUnprocessableEntity, "ttl_days must be between 1 and 30")
		}
		ttlDays = *req.TTLDays
	}

	ctx := c.Request().Context()
	if _, err := s.store.GetRepository(ctx, repoID); err != nil {
		return apiError(http.StatusNotFound, "Repository not found")
	}
	result, err := s.store.LatestResult(ctx, repoID)
	if err != nil {
		return err
	}
	if result == nil {
		return apiError(http.StatusNotFound, "Analysis result not found")
	}

	user := currentUser(c)
	expiresAt := time.Now().UTC().AddDate(0, 0, ttlDays)
	row, err := s.store.CreateShareTokenRow(ctx, repoID, user.ID, expiresAt)
	if err != nil {
		return err
	}

	token, err := s.tokens.CreateShareToken(repoID, row.ID, expiresAt)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"share_id":    row.ID.String(),
		"share_token": token,
		"share_url":   strings.TrimRight(s.cfg.FrontendURL, "/") + "/share/" + token,
		"expires_at":  expiresAt,
	})
}

// handleRevokeShare revokes one share link owned by the caller.
func (s *Server) handleRevokeShare(c echo.Context) error {
	shareID, err := uuid.Parse(c.Param("share_id"))
	if err != nil {
		return apiError(http.StatusNotFound, "Share token not found")
	}

	user := currentUser(c)
	revoked, dbErr := s.store.RevokeShareToken(c.Request().Context(), shareID, user.ID)
	if dbErr != nil {
		return dbErr
	}
	if !revoked {
		return apiError(http.StatusNotFound, "Share token not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func orEmptyJSONB(value db.JSONB) db.JSONB {
	if value == nil {
		return db.JSONB{}
	}
	return value
}

// handleResolveShare serves a shared analysis without authentication. The
// token signature, the persisted row and its lifecycle state must all agree.
func (s *Server) handleResolveShare(c echo.Context) error {
	repoID, shareID, err := s.tokens.DecodeShareToken(c.Param("token"))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidPayload):
			return apiError(http.StatusUnauthorized, "Invalid share token payload")
		case errors.Is(err, auth.ErrExpiredToken):
			return apiError(http.StatusUnauthorized, "Share token expired")
		default:
			return apiError(http.StatusUnauthorized, "Invalid share token")
		}
	}

	ctx := c.Request().Context()
	row, dbErr := s.store.GetShareTokenRow(ctx, shareID)
	if dbErr != nil {
		return dbErr
	}
	if row == nil || row.RepoID != repoID {
		return apiError(http.StatusUnauthorized, "Invalid share token")
	}
	if row.RevokedAt != nil {
		return apiError(http.StatusUnauthorized, "Share token revoked")
	}
	if time.Now().UTC().After(row.ExpiresAt) {
		return apiError(http.StatusUnauthorized, "Share token expired")
	}

	repo, dbErr := s.store.GetRepository(ctx, repoID)
	if dbErr != nil {
		return apiError(http.StatusUnauthorized, "Invalid share token")
	}
	result, dbErr := s.store.LatestResult(ctx, repoID)
	if dbErr != nil {
		return dbErr
	}
	if result == nil {
		return apiError(http.StatusNotFound, "Analysis result not found")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"repo_id":    repoID.String(),
		"repository": newRepositoryPayload(repo),
		"analysis": map[string]interface{}{
			"quality_score":        result.QualityScore,
			"architecture_summary": result.ArchitectureSummary,
			"language_breakdown":   orEmptyJSONB(result.LanguageBreakdown),
			"contributor_stats":    orEmptyJSONB(result.ContributorStats),
			"tech_debt_flags":      orEmptyJSONB(result.TechDebtFlags),
			"file_tree":            orEmptyJSONB(result.FileTree),
		},
		"shared_at":  row.CreatedAt,
		"expires_at": row.ExpiresAt,
	})
}
