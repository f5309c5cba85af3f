package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func sampleInput() Input {
	return Input{
		FullName:      "octocat/hello",
		DefaultBranch: "main",
		ChunkCount:    12,
		Paths:         []string{"app/main.py", "app/routes.py", "lib/util.js"},
		Languages: []LanguageShare{
			{Name: "py", Percent: 70.5},
			{Name: "js", Percent: 29.5},
		},
	}
}

func TestFallbackSummary(t *testing.T) {
	got := FallbackSummary(sampleInput())
	assert.Equal(t,
		"Repository octocat/hello (branch main) is primarily py. "+
			"The parse/index stage identified 3 source files and 12 chunks. "+
			"Representative paths include: app/main.py, app/routes.py, lib/util.js. "+
			"This summary is generated from structural chunk metadata and should be refined with LLM synthesis in later stages.",
		got)
}

func TestFallbackSummaryEmptyRepo(t *testing.T) {
	in := Input{FullName: "octocat/empty", DefaultBranch: "main"}
	got := FallbackSummary(in)
	assert.Contains(t, got, "is primarily unknown")
	assert.Contains(t, got, "identified 0 source files and 0 chunks")
	assert.Contains(t, got, "no source files discovered")
}

func TestBuildPromptContents(t *testing.T) {
	prompt := BuildPrompt(sampleInput())
	assert.Contains(t, prompt, "Repository: octocat/hello")
	assert.Contains(t, prompt, "Branch: main")
	assert.Contains(t, prompt, "Files discovered: 3 sampled from 12 chunks")
	assert.Contains(t, prompt, `Language breakdown: {"py": 70.50, "js": 29.50}`)
	assert.Contains(t, prompt, "Representative files: app/main.py, app/routes.py, lib/util.js")
	assert.Contains(t, prompt, "Do not invent files or technologies")
}

func TestBuildPromptCapsPaths(t *testing.T) {
	in := sampleInput()
	in.Paths = nil
	for i := 0; i < 40; i++ {
		in.Paths = append(in.Paths, "file.go")
	}
	prompt := BuildPrompt(in)
	assert.Contains(t, prompt, "Files discovered: 25 sampled from 12 chunks")
}

func completionServer(t *testing.T, status int, content string, sawRequest *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if sawRequest != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(sawRequest))
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
}

func TestProviderComplete(t *testing.T) {
	var seen chatRequest
	server := completionServer(t, http.StatusOK, "  A tidy summary.  ", &seen)
	defer server.Close()

	provider := NewOpenAIProvider("openrouter", server.URL, "test-key", "openai/gpt-4o-mini", 5*time.Second)
	text, err := provider.Complete(context.Background(), "describe it")
	require.NoError(t, err)
	assert.Equal(t, "A tidy summary.", text)

	assert.Equal(t, "openai/gpt-4o-mini", seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, systemPrompt, seen.Messages[0].Content)
	assert.Equal(t, "describe it", seen.Messages[1].Content)
	assert.InDelta(t, 0.2, seen.Temperature, 0.0001)
	assert.Equal(t, 220, seen.MaxTokens)
}

func TestProviderNonOKStatus(t *testing.T) {
	server := completionServer(t, http.StatusBadGateway, "", nil)
	defer server.Close()

	provider := NewOpenAIProvider("groq", server.URL, "test-key", "llama-3.1-8b-instant", 5*time.Second)
	_, err := provider.Complete(context.Background(), "describe it")
	require.Error(t, err)
	assert.Equal(t, "http_502", ErrorCode(err))
}

func TestProviderEmptyContent(t *testing.T) {
	server := completionServer(t, http.StatusOK, "   ", nil)
	defer server.Close()

	provider := NewOpenAIProvider("groq", server.URL, "test-key", "llama-3.1-8b-instant", 5*time.Second)
	_, err := provider.Complete(context.Background(), "describe it")
	require.Error(t, err)
	assert.Equal(t, "empty_response", ErrorCode(err))
}

type stubProvider struct {
	name string
	text string
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(context.Context, string) (string, error) {
	return s.text, s.err
}

func TestSummarizerUsesPrimary(t *testing.T) {
	s := NewSummarizer(
		&stubProvider{name: "openrouter", text: "primary summary"},
		&stubProvider{name: "groq", text: "fallback summary"},
		testLog(),
	)
	assert.Equal(t, "primary summary", s.Generate(context.Background(), sampleInput()))
}

func TestSummarizerFallsBackToSecondary(t *testing.T) {
	s := NewSummarizer(
		&stubProvider{name: "openrouter", err: &ProviderError{Code: "http_500", Message: "boom"}},
		&stubProvider{name: "groq", text: "fallback summary"},
		testLog(),
	)
	assert.Equal(t, "fallback summary", s.Generate(context.Background(), sampleInput()))
}

func TestSummarizerFallsBackToTemplate(t *testing.T) {
	s := NewSummarizer(
		&stubProvider{name: "openrouter", err: errors.New("boom")},
		&stubProvider{name: "groq", err: &ProviderError{Code: "timeout", Message: "slow"}},
		testLog(),
	)
	got := s.Generate(context.Background(), sampleInput())
	assert.Equal(t, FallbackSummary(sampleInput()), got)
}

func TestSummarizerWithNoProviders(t *testing.T) {
	s := NewSummarizer(nil, nil, testLog())
	got := s.Generate(context.Background(), sampleInput())
	assert.Equal(t, FallbackSummary(sampleInput()), got)
}
