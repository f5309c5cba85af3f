package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// IdentityFunc classifies the caller of a request. Implementations decode
// the bearer token when present and fall back to the client address.
type IdentityFunc func(c echo.Context) (identityType, identity string)

// ScopeFunc maps a request to its limiter scope, or "" when unlimited.
type ScopeFunc func(c echo.Context) string

// DefaultScope limits repository analysis and all chat writes.
func DefaultScope(c echo.Context) string {
	if c.Request().Method != http.MethodPost {
		return ""
	}
	path := c.Request().URL.Path
	switch {
	case path == "/api/v1/repos/analyze":
		return "analyze"
	case strings.HasPrefix(path, "/api/v1/chat"):
		return "chat"
	}
	return ""
}

// ClientIdentity resolves a guest identity from X-Forwarded-For or the
// remote address.
func ClientIdentity(c echo.Context) string {
	if forwarded := c.Request().Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}

type limitErrorBody struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

// Middleware enforces the limiter on scoped routes. Redis outages fail open:
// the request proceeds without rate headers.
func Middleware(limiter *Limiter, scopeOf ScopeFunc, identityOf IdentityFunc, log *logrus.Entry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scope := scopeOf(c)
			if scope == "" {
				return next(c)
			}

			identityType, identity := identityOf(c)
			result, err := limiter.Check(c.Request().Context(), scope, identityType, identity)
			if err != nil {
				log.WithError(err).Warn("rate limiter unavailable, failing open")
				return next(c)
			}

			header := c.Response().Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			header.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetEpoch, 10))

			if !result.Allowed {
				header.Set("Retry-After", strconv.Itoa(result.RetryAfter))
				body := limitErrorBody{}
				body.Error.Code = "RATE_LIMITED"
				body.Error.Message = "Rate limit exceeded"
				body.Error.Details = map[string]interface{}{
					"scope":         scope,
					"identity_type": identityType,
				}
				return c.JSON(http.StatusTooManyRequests, body)
			}
			return next(c)
		}
	}
}
