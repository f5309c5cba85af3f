package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devlens/devlens/config"
	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/telemetry"
)

// ParseWorker clones the repository at its pinned commit, slices every
// indexable source file into line chunks and swaps them into postgres.
type ParseWorker struct {
	store       *db.Store
	reliability *Reliability
	cfg         *config.Config
	log         *logrus.Entry
}

// NewParseWorker wires the parse stage.
func NewParseWorker(store *db.Store, reliability *Reliability, cfg *config.Config, log *logrus.Entry) *ParseWorker {
	return &ParseWorker{store: store, reliability: reliability, cfg: cfg, log: log.WithField("stage", StageParsing)}
}

// ProcessNext claims and runs one parse job. It returns false when no job
// was eligible.
func (w *ParseWorker) ProcessNext(ctx context.Context) (bool, error) {
	snapshot, err := w.store.ClaimNextJob(ctx, []string{db.StatusQueued, db.StatusParsing}, db.StatusParsing, 10)
	if err != nil {
		return false, err
	}
	if snapshot == nil {
		return false, nil
	}

	started := time.Now()
	log := w.log.WithFields(logrus.Fields{"job_id": snapshot.JobID, "repo_id": snapshot.RepoID})
	log.Info("parse stage started")

	if err := w.run(ctx, snapshot); err != nil {
		se := classify(err, "UNEXPECTED_PARSE_ERROR")
		w.reliability.HandleFailure(ctx, snapshot.JobID, snapshot.RepoID, StageParsing, se, db.JSONB{
			"github_url": snapshot.GithubURL,
			"commit_sha": snapshot.CommitSHA,
		})
		telemetry.RecordStageDuration(StageParsing, "error", time.Since(started).Seconds())
		return true, nil
	}

	telemetry.RecordStageDuration(StageParsing, "success", time.Since(started).Seconds())
	log.WithField("duration", time.Since(started)).Info("parse stage finished")
	return true, nil
}

func (w *ParseWorker) run(ctx context.Context, snapshot *db.JobSnapshot) error {
	repoPath, err := w.cloneRepo(ctx, snapshot.GithubURL, snapshot.CommitSHA)
	if repoPath != "" {
		defer os.RemoveAll(repoPath)
	}
	if err != nil {
		return err
	}
	if err := w.store.UpdateJobStatus(ctx, snapshot.JobID, db.StatusParsing, 30, nil); err != nil {
		return err
	}

	files, err := CollectSourceFiles(repoPath)
	if err != nil {
		return err
	}
	if len(files) > w.cfg.ParseMaxFiles {
		return stageErr("FILE_LIMIT_EXCEEDED", "Repo has %d source files; limit is %d", len(files), w.cfg.ParseMaxFiles)
	}

	chunks, err := w.chunkFiles(repoPath, files, snapshot.RepoID)
	if err != nil {
		return err
	}

	if err := w.store.UpdateJobStatus(ctx, snapshot.JobID, db.StatusParsing, 80, nil); err != nil {
		return err
	}
	if err := w.store.ReplaceChunks(ctx, snapshot.RepoID, chunks); err != nil {
		return err
	}
	return w.store.UpdateJobStatus(ctx, snapshot.JobID, db.StatusEmbedding, 100, nil)
}

func (w *ParseWorker) chunkFiles(repoPath string, files []string, repoID uuid.UUID) ([]db.CodeChunk, error) {
	var chunks []db.CodeChunk
	for _, rel := range files {
		content, err := os.ReadFile(repoPath + "/" + rel)
		if err != nil {
			// unreadable files are skipped, not fatal
			w.log.WithError(err).WithField("file", rel).Warn("skipping unreadable file")
			continue
		}

		language := LanguageForPath(rel)
		windows, err := ChunkLines(decodeFileContent(content), w.cfg.ParseChunkLines, w.cfg.ParseChunkOverlapLines)
		if err != nil {
			return nil, err
		}

		for _, window := range windows {
			repoRef := repoID
			startLine := window.StartLine
			endLine := window.EndLine
			lang := language
			chunks = append(chunks, db.CodeChunk{
				ID:        uuid.New(),
				RepoID:    &repoRef,
				FilePath:  rel,
				StartLine: &startLine,
				EndLine:   &endLine,
				Content:   window.Content,
				Language:  &lang,
			})
			if len(chunks) > w.cfg.ParseMaxChunks {
				return nil, stageErr("CHUNK_LIMIT_EXCEEDED", "Chunk limit exceeded: %d", w.cfg.ParseMaxChunks)
			}
		}
	}
	return chunks, nil
}

// decodeFileContent reads file bytes as UTF-8 with replacement, so chunks
// from repositories with legacy encodings still store as valid text.
func decodeFileContent(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "�")
}

// cloneRepo checks the pinned commit out into a fresh temp directory. The
// directory path is returned even on failure so the caller can clean up.
func (w *ParseWorker) cloneRepo(ctx context.Context, githubURL, commitSHA string) (string, error) {
	tempDir, err := os.MkdirTemp("", "devlens-parse-")
	if err != nil {
		return "", err
	}

	timeout := time.Duration(w.cfg.ParseCloneTimeoutSeconds) * time.Second
	if err := runGit(ctx, timeout, "", "clone", "--depth", "1", githubURL, tempDir); err != nil {
		return tempDir, err
	}
	if err := runGit(ctx, timeout, tempDir, "fetch", "--depth", "1", "origin", commitSHA); err != nil {
		return tempDir, err
	}
	if err := runGit(ctx, timeout, tempDir, "checkout", commitSHA); err != nil {
		return tempDir, err
	}
	return tempDir, nil
}

func runGit(ctx context.Context, timeout time.Duration, dir string, args ...string) error {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return stageErr("CLONE_TIMEOUT", "Repository clone timed out")
	}
	detail := stderr.String()
	if len(detail) > 300 {
		detail = detail[:300]
	}
	return stageErr("CLONE_FAILED", "Command failed: %s", detail)
}
