package worker

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/github"
	"github.com/devlens/devlens/llm"
	"github.com/devlens/devlens/telemetry"
)

const (
	longFunctionSpan  = 50
	maxLongFunctions  = 50
	maxMissingTests   = 20
	contributorsLimit = 10
)

var todoPattern = regexp.MustCompile(`(?i)\b(TODO|FIXME)\b`)

// AnalyzeWorker derives the dashboard result from the indexed chunks:
// language shares, tech debt flags, the file tree, the contributor
// leaderboard and the architecture summary.
type AnalyzeWorker struct {
	store       *db.Store
	gh          *github.Client
	summarizer  *llm.Summarizer
	reliability *Reliability
	log         *logrus.Entry
}

// NewAnalyzeWorker wires the analyze stage.
func NewAnalyzeWorker(store *db.Store, gh *github.Client, summarizer *llm.Summarizer, reliability *Reliability, log *logrus.Entry) *AnalyzeWorker {
	return &AnalyzeWorker{
		store:       store,
		gh:          gh,
		summarizer:  summarizer,
		reliability: reliability,
		log:         log.WithField("stage", StageAnalyzing),
	}
}

// ProcessNext claims and runs one analyze job. It returns false when no job
// was eligible.
func (w *AnalyzeWorker) ProcessNext(ctx context.Context) (bool, error) {
	snapshot, err := w.store.ClaimNextJob(ctx, []string{db.StatusAnalyzing}, db.StatusAnalyzing, 10)
	if err != nil {
		return false, err
	}
	if snapshot == nil {
		return false, nil
	}

	started := time.Now()
	log := w.log.WithFields(logrus.Fields{"job_id": snapshot.JobID, "repo_id": snapshot.RepoID})
	log.Info("analyze stage started")

	if err := w.run(ctx, snapshot); err != nil {
		se := classify(err, "UNEXPECTED_ANALYZE_ERROR")
		w.reliability.HandleFailure(ctx, snapshot.JobID, snapshot.RepoID, StageAnalyzing, se, nil)
		telemetry.RecordStageDuration(StageAnalyzing, "error", time.Since(started).Seconds())
		return true, nil
	}

	telemetry.RecordStageDuration(StageAnalyzing, "success", time.Since(started).Seconds())
	log.WithField("duration", time.Since(started)).Info("analyze stage finished")
	return true, nil
}

func (w *AnalyzeWorker) run(ctx context.Context, snapshot *db.JobSnapshot) error {
	chunks, err := w.store.ChunksByRepo(ctx, snapshot.RepoID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return stageErr("NO_CHUNKS", "No chunks available for analysis")
	}

	languages := LanguageBreakdown(chunks)
	techDebt := DetectTechDebt(chunks)
	fileTree := BuildFileTree(chunks)
	contributors := w.contributorStats(ctx, snapshot.FullName)
	summary := w.summarizer.Generate(ctx, summaryInput(snapshot, languages, chunks))
	quality := ComputeQualityScore(techDebt, fileTree)

	if err := w.store.UpdateJobStatus(ctx, snapshot.JobID, db.StatusAnalyzing, 80, nil); err != nil {
		return err
	}

	jobID := snapshot.JobID
	repoID := snapshot.RepoID
	cacheKey := resultCacheKey(snapshot.RepoID, snapshot.CommitSHA)
	result := &db.AnalysisResult{
		RepoID:              &repoID,
		JobID:               &jobID,
		CacheKey:            &cacheKey,
		ArchitectureSummary: &summary,
		QualityScore:        &quality,
		LanguageBreakdown:   languagesJSONB(languages),
		ContributorStats:    contributors,
		TechDebtFlags:       techDebtJSONB(techDebt),
		FileTree:            fileTreeJSONB(fileTree),
	}
	if err := w.store.SaveResultForJob(ctx, result); err != nil {
		return err
	}

	if err := w.store.CompleteJob(ctx, snapshot.JobID); err != nil {
		return err
	}
	return w.store.TouchLastAnalyzed(ctx, snapshot.RepoID, time.Now().UTC())
}

// resultCacheKey identifies the exact (repo, commit) a result was computed
// from; re-analyses of the same commit overwrite it instead of duplicating.
func resultCacheKey(repoID uuid.UUID, commitSHA string) string {
	return fmt.Sprintf("%s:%s", repoID, commitSHA)
}

// LanguageShare is one language's percentage of the repository content by
// byte size, largest first.
type LanguageShare struct {
	Name    string
	Percent float64
}

// LanguageBreakdown attributes content bytes to languages and converts them
// to percentages rounded to two decimals.
func LanguageBreakdown(chunks []db.CodeChunk) []LanguageShare {
	totals := map[string]int{}
	for _, chunk := range chunks {
		lang := "unknown"
		if chunk.Language != nil && *chunk.Language != "" {
			lang = strings.ToLower(*chunk.Language)
		}
		totals[lang] += len(chunk.Content)
	}

	totalSize := 0
	for _, size := range totals {
		totalSize += size
	}
	if totalSize == 0 {
		totalSize = 1
	}

	shares := make([]LanguageShare, 0, len(totals))
	for lang, size := range totals {
		shares = append(shares, LanguageShare{
			Name:    lang,
			Percent: math.Round(float64(size)/float64(totalSize)*100*100) / 100,
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Percent != shares[j].Percent {
			return shares[i].Percent > shares[j].Percent
		}
		return shares[i].Name < shares[j].Name
	})
	return shares
}

// LongFunction flags a chunk spanning more lines than a reasonable function
// should.
type LongFunction struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Length int    `json:"length"`
}

// TechDebt is the debt signal set shown on the dashboard.
type TechDebt struct {
	LongFunctions []LongFunction
	TodoCount     int
	MissingTests  []string
}

// DetectTechDebt scans chunks for long spans, TODO/FIXME markers and the
// absence of anything resembling a test file.
func DetectTechDebt(chunks []db.CodeChunk) TechDebt {
	var debt TechDebt
	sourceFiles := map[string]bool{}
	hasTests := false

	for _, chunk := range chunks {
		path := chunk.FilePath
		lowerPath := strings.ToLower(path)
		sourceFiles[path] = true
		if strings.Contains(lowerPath, "/tests/") || strings.HasPrefix(lowerPath, "tests/") || strings.Contains(lowerPath, "test_") {
			hasTests = true
		}

		if chunk.StartLine != nil && chunk.EndLine != nil {
			span := *chunk.EndLine - *chunk.StartLine + 1
			if span > longFunctionSpan && len(debt.LongFunctions) < maxLongFunctions {
				debt.LongFunctions = append(debt.LongFunctions, LongFunction{
					File:   path,
					Line:   *chunk.StartLine,
					Length: span,
				})
			}
		}

		debt.TodoCount += len(todoPattern.FindAllString(chunk.Content, -1))
	}

	if !hasTests {
		paths := make([]string, 0, len(sourceFiles))
		for path := range sourceFiles {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		if len(paths) > maxMissingTests {
			paths = paths[:maxMissingTests]
		}
		debt.MissingTests = paths
	}
	return debt
}

// FileMetrics aggregates one file's chunks.
type FileMetrics struct {
	Chunks   int    `json:"chunks"`
	Lines    int    `json:"lines"`
	Language string `json:"language"`
}

// BuildFileTree aggregates chunk counts and line coverage per file.
func BuildFileTree(chunks []db.CodeChunk) map[string]FileMetrics {
	files := map[string]FileMetrics{}
	for _, chunk := range chunks {
		entry, ok := files[chunk.FilePath]
		if !ok {
			entry.Language = "unknown"
			if chunk.Language != nil && *chunk.Language != "" {
				entry.Language = *chunk.Language
			}
		}
		entry.Chunks++
		if chunk.StartLine != nil && chunk.EndLine != nil {
			span := *chunk.EndLine - *chunk.StartLine + 1
			if span > 0 {
				entry.Lines += span
			}
		}
		files[chunk.FilePath] = entry
	}
	return files
}

// ComputeQualityScore folds the debt signals into a 0-100 score. TODOs and
// long functions each cost up to 30 points, missing tests 20; a README earns
// 5 back.
func ComputeQualityScore(debt TechDebt, files map[string]FileMetrics) int {
	score := 100

	todoPenalty := debt.TodoCount
	if todoPenalty > 30 {
		todoPenalty = 30
	}
	score -= todoPenalty

	longFnPenalty := len(debt.LongFunctions) * 2
	if longFnPenalty > 30 {
		longFnPenalty = 30
	}
	score -= longFnPenalty

	if len(debt.MissingTests) > 0 {
		score -= 20
	}

	for path := range files {
		if strings.HasSuffix(strings.ToLower(path), "readme.md") {
			score += 5
			break
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// contributorStats fetches the leaderboard best effort: an API failure is
// recorded in the payload instead of failing the stage.
func (w *AnalyzeWorker) contributorStats(ctx context.Context, fullName string) db.JSONB {
	empty := []interface{}{}
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 {
		return db.JSONB{"top_contributors": empty, "error": "github_unreachable"}
	}

	contributors, err := w.gh.TopContributors(ctx, parts[0], parts[1], contributorsLimit)
	if err != nil {
		code := "github_unreachable"
		if status := github.StatusCode(err); status != 0 {
			code = fmt.Sprintf("github_status_%d", status)
		}
		w.log.WithError(err).WithField("repo", fullName).Warn("contributor lookup failed")
		return db.JSONB{"top_contributors": empty, "error": code}
	}

	rows := make([]interface{}, 0, len(contributors))
	for _, c := range contributors {
		rows = append(rows, map[string]interface{}{
			"username": c.Login,
			"commits":  c.Contributions,
		})
	}
	return db.JSONB{"top_contributors": rows}
}

func summaryInput(snapshot *db.JobSnapshot, languages []LanguageShare, chunks []db.CodeChunk) llm.Input {
	seen := map[string]bool{}
	var paths []string
	for _, chunk := range chunks {
		if !seen[chunk.FilePath] {
			seen[chunk.FilePath] = true
			paths = append(paths, chunk.FilePath)
		}
	}
	sort.Strings(paths)

	shares := make([]llm.LanguageShare, len(languages))
	for i, lang := range languages {
		shares[i] = llm.LanguageShare{Name: lang.Name, Percent: lang.Percent}
	}

	branch := snapshot.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	return llm.Input{
		FullName:      snapshot.FullName,
		DefaultBranch: branch,
		ChunkCount:    len(chunks),
		Paths:         paths,
		Languages:     shares,
	}
}

func languagesJSONB(languages []LanguageShare) db.JSONB {
	out := db.JSONB{}
	for _, lang := range languages {
		out[lang.Name] = lang.Percent
	}
	return out
}

func techDebtJSONB(debt TechDebt) db.JSONB {
	longFns := make([]interface{}, 0, len(debt.LongFunctions))
	for _, fn := range debt.LongFunctions {
		longFns = append(longFns, map[string]interface{}{
			"file":   fn.File,
			"line":   fn.Line,
			"length": fn.Length,
		})
	}
	missing := make([]interface{}, 0, len(debt.MissingTests))
	for _, path := range debt.MissingTests {
		missing = append(missing, path)
	}
	return db.JSONB{
		"long_functions": longFns,
		"todo_count":     debt.TodoCount,
		"missing_tests":  missing,
	}
}

func fileTreeJSONB(files map[string]FileMetrics) db.JSONB {
	entries := map[string]interface{}{}
	for path, metrics := range files {
		entries[path] = map[string]interface{}{
			"chunks":   metrics.Chunks,
			"lines":    metrics.Lines,
			"language": metrics.Language,
		}
	}
	return db.JSONB{"files": entries}
}
