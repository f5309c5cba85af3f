package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/depgraph"
	"github.com/devlens/devlens/github"
	"github.com/devlens/devlens/retrieval"
)

type analyzeRequest struct {
	GithubURL      string  `json:"github_url"`
	ForceReanalyze bool    `json:"force_reanalyze"`
	IdempotencyKey *string `json:"idempotency_key"`
}

type analyzeResponse struct {
	JobID     string `json:"job_id"`
	RepoID    string `json:"repo_id"`
	Status    string `json:"status"`
	CacheHit  bool   `json:"cache_hit"`
	CommitSHA string `json:"commit_sha"`
}

// handleAnalyze resolves the repository's head commit, upserts its metadata
// and either reuses an equivalent run or enqueues a new one. The endpoint is
// open to anonymous callers; a valid credential only attributes the job.
func (s *Server) handleAnalyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.GithubURL) == "" {
		return apiError(http.StatusBadRequest, "github_url is required")
	}
	idempotencyKey := idempotencyKeyOf(c, &req)

	ctx := c.Request().Context()
	snapshot, err := s.gh.ResolveSnapshot(ctx, req.GithubURL)
	if err != nil {
		var invalid *github.ErrInvalidRepoURL
		switch {
		case errors.As(err, &invalid):
			return apiError(http.StatusBadRequest, invalid.Reason)
		case errors.Is(err, github.ErrRepoNotFound):
			return apiError(http.StatusNotFound, "Repository not found on GitHub")
		default:
			return apiError(http.StatusBadGateway, "GitHub is unavailable")
		}
	}

	repo, err := s.store.UpsertRepository(ctx, &db.Repository{
		GithubURL:       snapshot.GithubURL,
		FullName:        snapshot.FullName,
		Owner:           snapshot.Owner,
		Name:            snapshot.Name,
		DefaultBranch:   snapshot.DefaultBranch,
		LatestCommitSHA: &snapshot.CommitSHA,
		Description:     snapshot.Description,
		Stars:           snapshot.Stars,
		Forks:           snapshot.Forks,
		Language:        snapshot.Language,
		SizeKB:          snapshot.SizeKB,
	})
	if err != nil {
		return err
	}

	if !req.ForceReanalyze {
		if idempotencyKey != nil {
			job, err := s.store.FindJobByIdempotencyKey(ctx, repo.ID, snapshot.CommitSHA, *idempotencyKey)
			if err != nil {
				return err
			}
			if job != nil {
				return c.JSON(http.StatusOK, newAnalyzeResponse(job, repo.ID, snapshot.CommitSHA))
			}
		}

		job, err := s.store.FindReusableJob(ctx, repo.ID, snapshot.CommitSHA)
		if err != nil {
			return err
		}
		if job != nil {
			return c.JSON(http.StatusOK, newAnalyzeResponse(job, repo.ID, snapshot.CommitSHA))
		}
	}

	job, err := s.store.CreateJob(ctx, repo.ID, s.optionalUserID(c), snapshot.CommitSHA, idempotencyKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newAnalyzeResponse(job, repo.ID, snapshot.CommitSHA))
}

// idempotencyKeyOf resolves the caller's idempotency key. The Idempotency-Key
// header wins over the request body field.
func idempotencyKeyOf(c echo.Context, req *analyzeRequest) *string {
	if header := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key")); header != "" {
		return &header
	}
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		return req.IdempotencyKey
	}
	return nil
}

func newAnalyzeResponse(job *db.AnalysisJob, repoID uuid.UUID, commitSHA string) analyzeResponse {
	return analyzeResponse{
		JobID:     job.ID.String(),
		RepoID:    repoID.String(),
		Status:    job.Status,
		CacheHit:  job.Status == db.StatusDone,
		CommitSHA: commitSHA,
	}
}

type repositoryPayload struct {
	ID              string  `json:"id"`
	GithubURL       string  `json:"github_url"`
	FullName        string  `json:"full_name"`
	Owner           string  `json:"owner"`
	Name            string  `json:"name"`
	DefaultBranch   string  `json:"default_branch"`
	LatestCommitSHA *string `json:"latest_commit_sha"`
	Description     *string `json:"description"`
	Stars           *int    `json:"stars"`
	Forks           *int    `json:"forks"`
	Language        *string `json:"language"`
	SizeKB          *int    `json:"size_kb"`
}

func newRepositoryPayload(repo *db.Repository) repositoryPayload {
	return repositoryPayload{
		ID:              repo.ID.String(),
		GithubURL:       repo.GithubURL,
		FullName:        repo.FullName,
		Owner:           repo.Owner,
		Name:            repo.Name,
		DefaultBranch:   repo.DefaultBranch,
		LatestCommitSHA: repo.LatestCommitSHA,
		Description:     repo.Description,
		Stars:           repo.Stars,
		Forks:           repo.Forks,
		Language:        repo.Language,
		SizeKB:          repo.SizeKB,
	}
}

type analysisPayload struct {
	QualityScore        *int      `json:"quality_score"`
	ArchitectureSummary *string   `json:"architecture_summary"`
	LanguageBreakdown   db.JSONB  `json:"language_breakdown"`
	ContributorStats    db.JSONB  `json:"contributor_stats"`
	TechDebtFlags       db.JSONB  `json:"tech_debt_flags"`
	FileTree            db.JSONB  `json:"file_tree"`
	CreatedAt           time.Time `json:"created_at"`
}

// handleDashboard returns the repository with its latest analysis, if any.
func (s *Server) handleDashboard(c echo.Context) error {
	repo, err := s.repoFromPath(c)
	if err != nil {
		return err
	}

	result, dbErr := s.store.LatestResult(c.Request().Context(), repo.ID)
	if dbErr != nil {
		return dbErr
	}

	var analysis *analysisPayload
	if result != nil {
		analysis = &analysisPayload{
			QualityScore:        result.QualityScore,
			ArchitectureSummary: result.ArchitectureSummary,
			LanguageBreakdown:   result.LanguageBreakdown,
			ContributorStats:    result.ContributorStats,
			TechDebtFlags:       result.TechDebtFlags,
			FileTree:            result.FileTree,
			CreatedAt:           result.CreatedAt,
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"repo_id":      repo.ID.String(),
		"repository":   newRepositoryPayload(repo),
		"analysis":     analysis,
		"has_analysis": analysis != nil,
	})
}

// handleGraph builds the file-level import graph from the stored chunks.
func (s *Server) handleGraph(c echo.Context) error {
	repo, err := s.repoFromPath(c)
	if err != nil {
		return err
	}

	chunks, dbErr := s.store.ChunksByRepo(c.Request().Context(), repo.ID)
	if dbErr != nil {
		return dbErr
	}

	fileChunks := make([]depgraph.FileChunk, 0, len(chunks))
	for _, chunk := range chunks {
		fileChunks = append(fileChunks, depgraph.FileChunk{
			FilePath: chunk.FilePath,
			Content:  chunk.Content,
		})
	}
	graph := depgraph.Build(fileChunks)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"repo_id": repo.ID.String(),
		"nodes":   graph.Nodes,
		"edges":   graph.Edges,
		"stats":   graph.Stats,
	})
}

type lexicalResult struct {
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path"`
	StartLine *int    `json:"start_line"`
	EndLine   *int    `json:"end_line"`
	Language  *string `json:"language"`
	Score     float64 `json:"score"`
}

// handleLexicalSearch ranks chunks with postgres full-text search only.
func (s *Server) handleLexicalSearch(c echo.Context) error {
	repo, err := s.repoFromPath(c)
	if err != nil {
		return err
	}
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return apiError(http.StatusBadRequest, "Search query must not be empty")
	}
	limit := queryInt(c, "limit", 20)

	hits, dbErr := s.store.LexicalSearch(c.Request().Context(), repo.ID, query, retrieval.ClampLimit(limit))
	if dbErr != nil {
		return dbErr
	}

	results := make([]lexicalResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, lexicalResult{
			ChunkID:   hit.ChunkID.String(),
			FilePath:  hit.FilePath,
			StartLine: hit.StartLine,
			EndLine:   hit.EndLine,
			Language:  hit.Language,
			Score:     hit.Score,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"repo_id": repo.ID.String(),
		"query":   query,
		"total":   len(results),
		"results": results,
	})
}

// handleHybridSearch fuses lexical and dense candidates into one ranking.
func (s *Server) handleHybridSearch(c echo.Context) error {
	repo, err := s.repoFromPath(c)
	if err != nil {
		return err
	}
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return apiError(http.StatusBadRequest, "Search query must not be empty")
	}
	limit := retrieval.ClampLimit(queryInt(c, "limit", 20))

	ranked, searchErr := s.hybridSearch(c.Request().Context(), repo.ID, query, limit)
	if searchErr != nil {
		return searchErr
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"repo_id": repo.ID.String(),
		"query":   query,
		"total":   len(ranked),
		"results": ranked,
	})
}

// repoFromPath resolves the :repo_id path parameter to a stored repository.
func (s *Server) repoFromPath(c echo.Context) (*db.Repository, error) {
	repoID, err := uuid.Parse(c.Param("repo_id"))
	if err != nil {
		return nil, apiError(http.StatusBadRequest, "Invalid repo_id")
	}
	repo, err := s.store.GetRepository(c.Request().Context(), repoID)
	if err != nil {
		return nil, apiError(http.StatusNotFound, "Repository not found")
	}
	return repo, nil
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
