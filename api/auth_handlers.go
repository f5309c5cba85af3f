package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/devlens/devlens/auth"
	"github.com/devlens/devlens/db"
)

const (
	refreshCookieName = "devlens_refresh_token"
	csrfCookieName    = "devlens_csrf_token"
	csrfHeader        = "x-csrf-token"
)

// originOf reduces a URL to its lowercased scheme://host pair.
func originOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}

// checkOrigin enforces that cookie-authenticated mutations come from the
// frontend. The Origin header wins; Referer is the fallback for clients that
// omit Origin.
func checkOrigin(r *http.Request, frontendURL string) *echo.HTTPError {
	expected := originOf(frontendURL)

	presented := r.Header.Get("Origin")
	if presented == "" {
		presented = r.Header.Get("Referer")
	}
	if presented == "" {
		return apiError(http.StatusForbidden, "Missing request origin")
	}
	if originOf(presented) != expected {
		return apiError(http.StatusForbidden, "Invalid request origin")
	}
	return nil
}

// checkCSRF enforces the double-submit pattern: the CSRF cookie must match
// the header echoed back by the frontend.
func checkCSRF(c echo.Context) *echo.HTTPError {
	cookie, err := c.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" || cookie.Value != c.Request().Header.Get(csrfHeader) {
		return apiError(http.StatusForbidden, "CSRF validation failed")
	}
	return nil
}

func (s *Server) setAuthCookies(c echo.Context, refreshToken, csrfToken string) {
	maxAge := int(s.cfg.RefreshTokenTTL().Seconds())
	secure := !s.cfg.IsDevelopment()

	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	c.SetCookie(&http.Cookie{
		Name:     csrfCookieName,
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearAuthCookies(c echo.Context) {
	secure := !s.cfg.IsDevelopment()
	for _, name := range []string{refreshCookieName, csrfCookieName} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name == refreshCookieName,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// handleGitHubLogin redirects to github.com with a signed state carrying the
// post-login path.
func (s *Server) handleGitHubLogin(c echo.Context) error {
	state, err := s.tokens.GenerateOAuthState(c.QueryParam("next"))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, s.oauth.AuthCodeURL(state))
}

// handleGitHubCallback completes the login: state check, code exchange,
// profile fetch, account upsert and cookie issuance, then a redirect back to
// the frontend.
func (s *Server) handleGitHubCallback(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return apiError(http.StatusBadRequest, "Missing OAuth code or state")
	}

	parsedState, err := s.tokens.ValidateOAuthState(state)
	if err != nil {
		if errors.Is(err, auth.ErrStateExpired) {
			return apiError(http.StatusBadRequest, "OAuth state expired")
		}
		return apiError(http.StatusBadRequest, "Invalid OAuth state")
	}

	ctx := c.Request().Context()
	token, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return apiError(http.StatusBadGateway, "GitHub OAuth exchange failed")
	}

	profile, err := s.oauth.FetchProfile(ctx, token)
	if err != nil {
		return apiError(http.StatusBadGateway, "GitHub OAuth exchange failed")
	}
	if profile.GithubID == 0 || profile.Login == "" {
		return apiError(http.StatusBadGateway, "Invalid GitHub profile payload")
	}

	user, err := s.store.UpsertUserByGithubID(ctx, profile.GithubID, profile.Login, profile.Email, profile.AvatarURL)
	if err != nil {
		return err
	}

	refreshToken, err := auth.IssueRefreshToken()
	if err != nil {
		return err
	}
	if _, err := s.store.StoreRefreshToken(ctx, user.ID, auth.HashRefreshToken(refreshToken), s.tokens.RefreshExpiry()); err != nil {
		return err
	}
	csrfToken, err := auth.NewCSRFToken()
	if err != nil {
		return err
	}
	s.setAuthCookies(c, refreshToken, csrfToken)

	next := parsedState.Next
	if !strings.HasPrefix(next, "/") {
		next = "/profile"
	}
	return c.Redirect(http.StatusFound, strings.TrimRight(s.cfg.FrontendURL, "/")+next)
}

type refreshResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// handleRefresh rotates the refresh token and mints a fresh access token.
func (s *Server) handleRefresh(c echo.Context) error {
	if err := checkOrigin(c.Request(), s.cfg.FrontendURL); err != nil {
		return err
	}
	if err := checkCSRF(c); err != nil {
		return err
	}

	cookie, err := c.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return apiError(http.StatusUnauthorized, "Missing refresh token")
	}

	ctx := c.Request().Context()
	row, err := s.store.GetRefreshTokenByHash(ctx, auth.HashRefreshToken(cookie.Value))
	if err != nil {
		return err
	}
	if row == nil || row.RevokedAt != nil {
		return apiError(http.StatusUnauthorized, "Invalid refresh token")
	}
	if time.Now().UTC().After(row.ExpiresAt) {
		return apiError(http.StatusUnauthorized, "Refresh token expired")
	}

	user, err := s.store.GetUser(ctx, row.UserID)
	if err != nil {
		return apiError(http.StatusUnauthorized, "User not found")
	}

	if err := s.store.RevokeRefreshToken(ctx, row.ID); err != nil {
		return err
	}
	newRefresh, err := auth.IssueRefreshToken()
	if err != nil {
		return err
	}
	if _, err := s.store.StoreRefreshToken(ctx, user.ID, auth.HashRefreshToken(newRefresh), s.tokens.RefreshExpiry()); err != nil {
		return err
	}
	csrfToken, err := auth.NewCSRFToken()
	if err != nil {
		return err
	}

	accessToken, err := s.tokens.CreateAccessToken(user.ID)
	if err != nil {
		return err
	}

	s.setAuthCookies(c, newRefresh, csrfToken)
	return c.JSON(http.StatusOK, refreshResponse{
		AccessToken:      accessToken,
		TokenType:        "bearer",
		ExpiresInSeconds: int(s.tokens.AccessTokenTTL().Seconds()),
	})
}

// handleLogout revokes the presented refresh token and deletes both cookies.
func (s *Server) handleLogout(c echo.Context) error {
	if err := checkOrigin(c.Request(), s.cfg.FrontendURL); err != nil {
		return err
	}
	if err := checkCSRF(c); err != nil {
		return err
	}

	if cookie, err := c.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		ctx := c.Request().Context()
		if row, err := s.store.GetRefreshTokenByHash(ctx, auth.HashRefreshToken(cookie.Value)); err == nil && row != nil {
			if err := s.store.RevokeRefreshToken(ctx, row.ID); err != nil {
				s.log.WithError(err).Warn("failed to revoke refresh token on logout")
			}
		}
	}

	s.clearAuthCookies(c)
	return c.NoContent(http.StatusNoContent)
}

type userResponse struct {
	ID        string    `json:"id"`
	GithubID  int64     `json:"github_id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserResponse(user *db.User) userResponse {
	return userResponse{
		ID:        user.ID.String(),
		GithubID:  user.GithubID,
		Username:  user.Username,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		CreatedAt: user.CreatedAt,
	}
}

// handleMe returns the authenticated account.
func (s *Server) handleMe(c echo.Context) error {
	return c.JSON(http.StatusOK, newUserResponse(currentUser(c)))
}
