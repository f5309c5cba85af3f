package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/telemetry"
)

const statusStreamEndpoint = "/api/v1/repos/{repo_id}/status"

const statusPollInterval = 1 * time.Second

// writeSSE emits one server-sent event and flushes it to the client.
func writeSSE(c echo.Context, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// splitErrorMessage recovers the error code and human message from the
// "CODE: message" format stored on failed jobs.
func splitErrorMessage(stored *string) (code, message string) {
	if stored == nil || *stored == "" {
		return "UNKNOWN", "Job failed"
	}
	code, message, found := strings.Cut(*stored, ":")
	if !found {
		return "UNKNOWN", *stored
	}
	return code, strings.TrimSpace(message)
}

// statusEvent renders a job's state as one SSE event. Failed jobs default a
// missing progress to 100 so clients can close their progress bars.
func statusEvent(job *db.AnalysisJob) (event string, payload map[string]interface{}) {
	switch job.Status {
	case db.StatusFailed:
		progress := job.Progress
		if progress == 0 {
			progress = 100
		}
		code, message := splitErrorMessage(job.ErrorMessage)
		return "error", map[string]interface{}{
			"job_id":   job.ID.String(),
			"stage":    db.StatusFailed,
			"progress": progress,
			"code":     code,
			"message":  message,
		}
	case db.StatusDone:
		return "done", map[string]interface{}{
			"job_id":   job.ID.String(),
			"stage":    db.StatusDone,
			"progress": 100,
		}
	default:
		return "progress", map[string]interface{}{
			"job_id":      job.ID.String(),
			"stage":       job.Status,
			"progress":    job.Progress,
			"message":     fmt.Sprintf("%s in progress", job.Status),
			"eta_seconds": nil,
		}
	}
}

type jobSignature struct {
	status   string
	progress int
	errMsg   string
}

func signatureOf(job *db.AnalysisJob) jobSignature {
	sig := jobSignature{status: job.Status, progress: job.Progress}
	if job.ErrorMessage != nil {
		sig.errMsg = *job.ErrorMessage
	}
	return sig
}

// handleStatusStream streams the newest job's state over SSE, polling the
// database once a second and emitting only on change. ?once=true sends a
// single snapshot and closes.
func (s *Server) handleStatusStream(c echo.Context) error {
	repoID, err := uuid.Parse(c.Param("repo_id"))
	if err != nil {
		return apiError(http.StatusBadRequest, "Invalid repo_id")
	}
	poll := func(ctx context.Context) (*db.AnalysisJob, error) {
		return s.store.LatestJobForRepo(ctx, repoID)
	}
	return streamJobStatus(c, repoID, poll, statusPollInterval)
}

// streamJobStatus runs the SSE loop over an injected job source so the
// emission rules stay testable without a database.
func streamJobStatus(c echo.Context, repoID uuid.UUID, poll func(context.Context) (*db.AnalysisJob, error), interval time.Duration) error {
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	started := time.Now()
	firstEvent := true
	emit := func(event string, payload interface{}) error {
		if firstEvent {
			telemetry.ObserveSSEStartup(statusStreamEndpoint, time.Since(started).Seconds())
			firstEvent = false
		}
		return writeSSE(c, event, payload)
	}

	ctx := c.Request().Context()
	job, err := poll(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		return emit("error", map[string]interface{}{
			"repo_id": repoID.String(),
			"code":    "NO_JOB",
			"message": "No analysis job found for repository",
		})
	}

	event, payload := statusEvent(job)
	if err := emit(event, payload); err != nil {
		return err
	}
	if c.QueryParam("once") == "true" || job.Status == db.StatusDone || job.Status == db.StatusFailed {
		return nil
	}

	lastSig := signatureOf(job)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		job, err = poll(ctx)
		if err != nil || job == nil {
			return nil
		}

		sig := signatureOf(job)
		if sig == lastSig {
			continue
		}
		lastSig = sig

		event, payload := statusEvent(job)
		if err := emit(event, payload); err != nil {
			return nil
		}
		if job.Status == db.StatusDone || job.Status == db.StatusFailed {
			return nil
		}
	}
}
