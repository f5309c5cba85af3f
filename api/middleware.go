package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/devlens/devlens/auth"
	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/ratelimit"
	"github.com/devlens/devlens/telemetry"
)

const userContextKey = "devlens.user"

// bearerCredential extracts the credential of an Authorization: Bearer
// header, or "".
func bearerCredential(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return ""
	}
	scheme, credential, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credential)
}

// requireUser authenticates the request with either a bearer access token or
// an API key and stores the account on the context.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		credential := bearerCredential(c.Request())
		if credential == "" {
			return apiError(http.StatusUnauthorized, "Missing Authorization header")
		}

		ctx := c.Request().Context()

		if auth.LooksLikeAPIKey(credential) {
			key, err := s.store.FindActiveAPIKey(ctx, auth.HashAPIKey(credential))
			if err != nil {
				return err
			}
			if key == nil {
				return apiError(http.StatusUnauthorized, "Invalid API key")
			}
			if err := s.store.TouchAPIKeyUsage(ctx, key.ID); err != nil {
				s.log.WithError(err).Warn("failed to stamp api key usage")
			}
			user, err := s.store.GetUser(ctx, key.UserID)
			if err != nil {
				return apiError(http.StatusUnauthorized, "User not found")
			}
			c.Set(userContextKey, user)
			return next(c)
		}

		userID, err := s.tokens.DecodeAccessToken(credential)
		if err != nil {
			return apiError(http.StatusUnauthorized, "Invalid access token payload")
		}
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return apiError(http.StatusUnauthorized, "User not found")
		}
		c.Set(userContextKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *db.User {
	user, _ := c.Get(userContextKey).(*db.User)
	return user
}

// optionalUserID resolves the caller's account when a valid credential is
// present, and nil otherwise. Used on routes that accept anonymous callers
// but attribute work to authenticated ones.
func (s *Server) optionalUserID(c echo.Context) *uuid.UUID {
	if user := currentUser(c); user != nil {
		return &user.ID
	}
	credential := bearerCredential(c.Request())
	if credential == "" {
		return nil
	}

	ctx := c.Request().Context()
	if auth.LooksLikeAPIKey(credential) {
		key, err := s.store.FindActiveAPIKey(ctx, auth.HashAPIKey(credential))
		if err != nil || key == nil {
			return nil
		}
		id := key.UserID
		return &id
	}

	userID, err := s.tokens.DecodeAccessToken(credential)
	if err != nil {
		return nil
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil
	}
	return &user.ID
}

// limiterIdentity classifies the caller for rate limiting without failing
// the request: a decodable access token or API key counts as authenticated,
// anything else falls back to the client address.
func (s *Server) limiterIdentity(c echo.Context) (string, string) {
	credential := bearerCredential(c.Request())
	if credential != "" {
		if auth.LooksLikeAPIKey(credential) {
			return ratelimit.IdentityAuth, auth.HashAPIKey(credential)
		}
		if userID, err := s.tokens.DecodeAccessToken(credential); err == nil {
			return ratelimit.IdentityAuth, userID.String()
		}
	}
	return ratelimit.IdentityGuest, ratelimit.ClientIdentity(c)
}

// requestMetrics observes every request's duration labelled by route.
func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else {
				status = http.StatusInternalServerError
			}
		}

		path := c.Path()
		if path == "" {
			path = c.Request().URL.Path
		}
		telemetry.HTTPRequestDuration.
			WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).
			Observe(time.Since(started).Seconds())
		return err
	}
}
