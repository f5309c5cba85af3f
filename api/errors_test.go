package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func TestCodeForStatus(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, "BAD_REQUEST"},
		{http.StatusUnauthorized, "UNAUTHORIZED"},
		{http.StatusForbidden, "FORBIDDEN"},
		{http.StatusNotFound, "NOT_FOUND"},
		{http.StatusConflict, "CONFLICT"},
		{http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{http.StatusTooManyRequests, "RATE_LIMITED"},
		{http.StatusInternalServerError, "INTERNAL_ERROR"},
		{http.StatusBadGateway, "UPSTREAM_ERROR"},
		{http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{http.StatusTeapot, "HTTP_ERROR"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, CodeForStatus(tc.status))
	}
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHTTPErrorHandlerEnvelope(t *testing.T) {
	e := echo.New()
	handler := HTTPErrorHandler(testLog())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/repos/abc/dashboard", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler(apiError(http.StatusNotFound, "Repository not found"), c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.Equal(t, "Repository not found", body.Error.Message)
	assert.NotNil(t, body.Error.Details)
}

func TestHTTPErrorHandlerHidesInternalErrors(t *testing.T) {
	e := echo.New()
	handler := HTTPErrorHandler(testLog())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler(errors.New("pq: connection refused"), c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, "Unexpected server error", body.Error.Message)
}
