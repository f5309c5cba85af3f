package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlens/devlens/db"
)

func strPtr(s string) *string { return &s }

func TestSplitErrorMessage(t *testing.T) {
	code, message := splitErrorMessage(strPtr("CLONE_TIMEOUT: Repository clone timed out"))
	assert.Equal(t, "CLONE_TIMEOUT", code)
	assert.Equal(t, "Repository clone timed out", message)

	code, message = splitErrorMessage(nil)
	assert.Equal(t, "UNKNOWN", code)
	assert.Equal(t, "Job failed", message)

	code, message = splitErrorMessage(strPtr("no separator here"))
	assert.Equal(t, "UNKNOWN", code)
	assert.Equal(t, "no separator here", message)
}

func TestStatusEventFailed(t *testing.T) {
	job := &db.AnalysisJob{
		ID:           uuid.New(),
		Status:       db.StatusFailed,
		Progress:     0,
		ErrorMessage: strPtr("FILE_LIMIT_EXCEEDED: Repo has 9000 source files; limit is 8000"),
	}

	event, payload := statusEvent(job)
	assert.Equal(t, "error", event)
	assert.Equal(t, "failed", payload["stage"])
	assert.Equal(t, 100, payload["progress"])
	assert.Equal(t, "FILE_LIMIT_EXCEEDED", payload["code"])
	assert.Equal(t, "Repo has 9000 source files; limit is 8000", payload["message"])
}

func TestStatusEventDone(t *testing.T) {
	job := &db.AnalysisJob{ID: uuid.New(), Status: db.StatusDone, Progress: 100}

	event, payload := statusEvent(job)
	assert.Equal(t, "done", event)
	assert.Equal(t, "done", payload["stage"])
	assert.Equal(t, 100, payload["progress"])
}

func TestStatusEventProgress(t *testing.T) {
	job := &db.AnalysisJob{ID: uuid.New(), Status: db.StatusEmbedding, Progress: 40}

	event, payload := statusEvent(job)
	assert.Equal(t, "progress", event)
	assert.Equal(t, "embedding", payload["stage"])
	assert.Equal(t, 40, payload["progress"])
	assert.Equal(t, "embedding in progress", payload["message"])
	assert.Nil(t, payload["eta_seconds"])
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		lines := strings.SplitN(frame, "\n", 2)
		require.Len(t, lines, 2)
		events = append(events, sseEvent{
			name: strings.TrimPrefix(lines[0], "event: "),
			data: strings.TrimPrefix(lines[1], "data: "),
		})
	}
	return events
}

func streamContext(t *testing.T, target string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestStreamJobStatusEmitsOnChangeOnly(t *testing.T) {
	c, rec := streamContext(t, "/api/v1/repos/x/status")
	jobID := uuid.New()

	states := []struct {
		status   string
		progress int
	}{
		{db.StatusParsing, 10},
		{db.StatusParsing, 10}, // unchanged, must not emit
		{db.StatusEmbedding, 40},
		{db.StatusDone, 100},
	}
	calls := 0
	poll := func(context.Context) (*db.AnalysisJob, error) {
		state := states[calls]
		if calls < len(states)-1 {
			calls++
		}
		return &db.AnalysisJob{ID: jobID, Status: state.status, Progress: state.progress}, nil
	}

	require.NoError(t, streamJobStatus(c, uuid.New(), poll, time.Millisecond))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 3, "the repeated parsing poll must emit nothing")
	assert.Equal(t, "progress", events[0].name)
	assert.Contains(t, events[0].data, `"stage":"parsing"`)
	assert.Contains(t, events[0].data, `"progress":10`)
	assert.Equal(t, "progress", events[1].name)
	assert.Contains(t, events[1].data, `"stage":"embedding"`)
	assert.Equal(t, "done", events[2].name)
	assert.Contains(t, events[2].data, `"progress":100`)
}

func TestStreamJobStatusStopsOnFailure(t *testing.T) {
	c, rec := streamContext(t, "/api/v1/repos/x/status")
	jobID := uuid.New()

	calls := 0
	poll := func(context.Context) (*db.AnalysisJob, error) {
		calls++
		if calls == 1 {
			return &db.AnalysisJob{ID: jobID, Status: db.StatusParsing, Progress: 10}, nil
		}
		return &db.AnalysisJob{
			ID:           jobID,
			Status:       db.StatusFailed,
			Progress:     100,
			ErrorMessage: strPtr("CLONE_FAILED: Command failed: boom"),
		}, nil
	}

	require.NoError(t, streamJobStatus(c, uuid.New(), poll, time.Millisecond))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "progress", events[0].name)
	assert.Equal(t, "error", events[1].name)
	assert.Contains(t, events[1].data, `"code":"CLONE_FAILED"`)
}

func TestStreamJobStatusOnceSendsSingleSnapshot(t *testing.T) {
	c, rec := streamContext(t, "/api/v1/repos/x/status?once=true")

	polls := 0
	poll := func(context.Context) (*db.AnalysisJob, error) {
		polls++
		return &db.AnalysisJob{ID: uuid.New(), Status: db.StatusEmbedding, Progress: 40}, nil
	}

	require.NoError(t, streamJobStatus(c, uuid.New(), poll, time.Millisecond))

	assert.Equal(t, 1, polls)
	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "progress", events[0].name)
}

func TestStreamJobStatusNoJob(t *testing.T) {
	c, rec := streamContext(t, "/api/v1/repos/x/status")
	repoID := uuid.New()

	poll := func(context.Context) (*db.AnalysisJob, error) { return nil, nil }

	require.NoError(t, streamJobStatus(c, repoID, poll, time.Millisecond))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].name)
	assert.Contains(t, events[0].data, `"code":"NO_JOB"`)
	assert.Contains(t, events[0].data, repoID.String())
}

func TestWriteSSEFormat(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, writeSSE(c, "progress", map[string]interface{}{"stage": "parsing"}))

	assert.Equal(t, "event: progress\ndata: {\"stage\":\"parsing\"}\n\n", rec.Body.String())
}
