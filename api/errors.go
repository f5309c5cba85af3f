package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// statusToCode maps HTTP statuses to the stable error codes clients switch
// on. Statuses outside the map fall back to HTTP_ERROR.
var statusToCode = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusUnauthorized:        "UNAUTHORIZED",
	http.StatusForbidden:           "FORBIDDEN",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusConflict:            "CONFLICT",
	http.StatusUnprocessableEntity: "VALIDATION_ERROR",
	http.StatusTooManyRequests:     "RATE_LIMITED",
	http.StatusInternalServerError: "INTERNAL_ERROR",
	http.StatusBadGateway:          "UPSTREAM_ERROR",
	http.StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
}

type errorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

type errorBody struct {
	Error errorInfo `json:"error"`
}

// CodeForStatus resolves the error code advertised for an HTTP status.
func CodeForStatus(status int) string {
	if code, ok := statusToCode[status]; ok {
		return code
	}
	return "HTTP_ERROR"
}

// apiError builds the echo error the central handler turns into the error
// envelope.
func apiError(status int, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, message)
}

// errorEnvelope renders the response body for one failed request.
func errorEnvelope(status int, message string, details map[string]interface{}) errorBody {
	if details == nil {
		details = map[string]interface{}{}
	}
	return errorBody{Error: errorInfo{
		Code:    CodeForStatus(status),
		Message: message,
		Details: details,
	}}
}

// HTTPErrorHandler converts every error reaching echo into the envelope
// format. Unhandled errors become an opaque 500.
func HTTPErrorHandler(log *logrus.Entry) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "Unexpected server error"

		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			} else {
				message = http.StatusText(status)
			}
		} else {
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Request().Method,
				"path":   c.Request().URL.Path,
			}).Error("unhandled request error")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		if err := c.JSON(status, errorEnvelope(status, message, nil)); err != nil {
			log.WithError(err).Error("failed to write error response")
		}
	}
}
