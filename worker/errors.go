// Package worker runs the three-stage analysis pipeline: parse clones and
// chunks the repository, embed pushes vectors into qdrant, analyze derives
// the dashboard result. Stages claim jobs from postgres with SKIP LOCKED,
// so any number of worker processes can run side by side.
package worker

import (
	"errors"
	"fmt"
)

// Stage names, also used as job statuses while a stage runs.
const (
	StageParsing   = "parsing"
	StageEmbedding = "embedding"
	StageAnalyzing = "analyzing"
)

// StageError is a classified pipeline failure. The code decides whether the
// job is retried and ends up in the stored error message and the dead letter
// row.
type StageError struct {
	Code    string
	Message string
}

func (e *StageError) Error() string { return e.Message }

func stageErr(code, format string, args ...interface{}) *StageError {
	return &StageError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// classify extracts the stage error, wrapping unclassified failures under
// the stage's unexpected-error code.
func classify(err error, unexpectedCode string) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Code: unexpectedCode, Message: err.Error()}
}
