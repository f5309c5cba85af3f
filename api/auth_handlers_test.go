package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrontend = "http://localhost:3000"

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "http://localhost:3000", originOf("HTTP://Localhost:3000/some/path"))
	assert.Equal(t, "https://app.example.com", originOf("https://app.example.com"))
	assert.Equal(t, "", originOf("not a url"))
	assert.Equal(t, "", originOf("/relative/path"))
}

func TestCheckOriginMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)

	err := checkOrigin(req, testFrontend)
	require.NotNil(t, err)
	assert.Equal(t, http.StatusForbidden, err.Code)
	assert.Equal(t, "Missing request origin", err.Message)
}

func TestCheckOriginMismatch(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.Header.Set("Origin", "https://evil.example.com")

	err := checkOrigin(req, testFrontend)
	require.NotNil(t, err)
	assert.Equal(t, "Invalid request origin", err.Message)
}

func TestCheckOriginMatches(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	assert.Nil(t, checkOrigin(req, testFrontend))
}

func TestCheckOriginRefererFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.Header.Set("Referer", "http://localhost:3000/profile")

	assert.Nil(t, checkOrigin(req, testFrontend))
}

func csrfContext(t *testing.T, cookie, header string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: cookie})
	}
	if header != "" {
		req.Header.Set(csrfHeader, header)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestCheckCSRF(t *testing.T) {
	assert.Nil(t, checkCSRF(csrfContext(t, "token-1", "token-1")))

	err := checkCSRF(csrfContext(t, "token-1", "token-2"))
	require.NotNil(t, err)
	assert.Equal(t, http.StatusForbidden, err.Code)
	assert.Equal(t, "CSRF validation failed", err.Message)

	assert.NotNil(t, checkCSRF(csrfContext(t, "", "token-1")))
	assert.NotNil(t, checkCSRF(csrfContext(t, "token-1", "")))
}

func TestBearerCredential(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", bearerCredential(req))

	req.Header.Set(echo.HeaderAuthorization, "Bearer abc123")
	assert.Equal(t, "abc123", bearerCredential(req))

	req.Header.Set(echo.HeaderAuthorization, "bearer abc123")
	assert.Equal(t, "abc123", bearerCredential(req))

	req.Header.Set(echo.HeaderAuthorization, "Basic dXNlcjpwYXNz")
	assert.Equal(t, "", bearerCredential(req))
}
