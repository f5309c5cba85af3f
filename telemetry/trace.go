package telemetry

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// TraceHeader carries the trace id across service boundaries.
const TraceHeader = "X-Trace-Id"

const traceContextKey = "devlens.trace_id"

// TraceMiddleware adopts an incoming trace id or mints one, stores it on the
// request context and echoes it back in the response.
func TraceMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			traceID := strings.TrimSpace(c.Request().Header.Get(TraceHeader))
			if traceID == "" {
				traceID = strings.ReplaceAll(uuid.NewString(), "-", "")
			}
			c.Set(traceContextKey, traceID)
			c.Response().Header().Set(TraceHeader, traceID)
			return next(c)
		}
	}
}

// TraceID returns the request's trace id, or "".
func TraceID(c echo.Context) string {
	if v, ok := c.Get(traceContextKey).(string); ok {
		return v
	}
	return ""
}
