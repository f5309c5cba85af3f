package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/devlens/devlens/config"
	"github.com/devlens/devlens/telemetry"
)

const maxPromptPaths = 25

// LanguageShare is one language's share of the repository content,
// ordered from largest to smallest when assembled.
type LanguageShare struct {
	Name    string
	Percent float64
}

// Input is the repository metadata a summary is built from. Paths must be
// the sorted, de-duplicated file paths of the indexed chunks.
type Input struct {
	FullName      string
	DefaultBranch string
	ChunkCount    int
	Paths         []string
	Languages     []LanguageShare
}

func (in Input) topLanguage() string {
	if len(in.Languages) == 0 {
		return "unknown"
	}
	return in.Languages[0].Name
}

// languagesJSON renders the breakdown as a JSON object in share order.
func (in Input) languagesJSON() string {
	if len(in.Languages) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(in.Languages))
	for _, lang := range in.Languages {
		parts = append(parts, fmt.Sprintf("%q: %.2f", lang.Name, lang.Percent))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// FallbackSummary is the deterministic paragraph used when no provider
// produces a summary.
func FallbackSummary(in Input) string {
	samplePaths := "no source files discovered"
	if len(in.Paths) > 0 {
		limit := len(in.Paths)
		if limit > 5 {
			limit = 5
		}
		samplePaths = strings.Join(in.Paths[:limit], ", ")
	}

	return fmt.Sprintf(
		"Repository %s (branch %s) is primarily %s. "+
			"The parse/index stage identified %d source files and %d chunks. "+
			"Representative paths include: %s. "+
			"This summary is generated from structural chunk metadata and should be refined with LLM synthesis in later stages.",
		in.FullName, in.DefaultBranch, in.topLanguage(), len(in.Paths), in.ChunkCount, samplePaths,
	)
}

// BuildPrompt assembles the completion prompt from the repository metadata.
func BuildPrompt(in Input) string {
	topPaths := in.Paths
	if len(topPaths) > maxPromptPaths {
		topPaths = topPaths[:maxPromptPaths]
	}
	representative := "none"
	if len(topPaths) > 0 {
		representative = strings.Join(topPaths, ", ")
	}

	return fmt.Sprintf(
		"Repository: %s\n"+
			"Branch: %s\n"+
			"Files discovered: %d sampled from %d chunks\n"+
			"Language breakdown: %s\n"+
			"Representative files: %s\n\n"+
			"Write a concise architecture summary (3-5 sentences) for an engineering dashboard. "+
			"Mention major layers/modules and likely responsibilities. "+
			"Do not invent files or technologies not reflected in the provided metadata.",
		in.FullName, in.DefaultBranch, len(topPaths), in.ChunkCount, in.languagesJSON(), representative,
	)
}

// Summarizer orchestrates the configured providers: primary first, then
// the fallback, then the deterministic template.
type Summarizer struct {
	primary  SummaryProvider
	fallback SummaryProvider
	log      *logrus.Entry
}

// NewSummarizer builds the orchestrator. Either provider may be nil.
func NewSummarizer(primary, fallback SummaryProvider, log *logrus.Entry) *Summarizer {
	return &Summarizer{primary: primary, fallback: fallback, log: log}
}

// NewSummarizerFromConfig wires providers from the configured API keys.
// A provider without a key is left out.
func NewSummarizerFromConfig(cfg *config.Config, log *logrus.Entry) *Summarizer {
	timeout := cfg.LLMSummaryTimeout()

	providers := map[string]SummaryProvider{}
	if cfg.OpenRouterAPIKey != "" {
		providers["openrouter"] = NewOpenAIProvider("openrouter", cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.LLMSummaryModel, timeout)
	}
	if cfg.GroqAPIKey != "" {
		providers["groq"] = NewOpenAIProvider("groq", cfg.GroqBaseURL, cfg.GroqAPIKey, cfg.LLMFallbackModel, timeout)
	}

	return NewSummarizer(providers[cfg.LLMPrimaryProvider], providers[cfg.LLMFallbackProvider], log)
}

// Generate returns the best available summary. It never fails: exhausting
// the providers yields the template paragraph.
func (s *Summarizer) Generate(ctx context.Context, in Input) string {
	prompt := BuildPrompt(in)

	if s.primary != nil {
		text, err := s.primary.Complete(ctx, prompt)
		if err == nil {
			telemetry.RecordLLMProviderAttempt(s.primary.Name(), "success", "")
			return text
		}
		code := ErrorCode(err)
		telemetry.RecordLLMProviderAttempt(s.primary.Name(), "error", code)
		s.log.WithError(err).WithField("provider", s.primary.Name()).Warn("summary provider failed")

		if s.fallback != nil {
			telemetry.RecordLLMFallback(s.primary.Name(), s.fallback.Name(), code)
		}
	}

	if s.fallback != nil {
		text, err := s.fallback.Complete(ctx, prompt)
		if err == nil {
			telemetry.RecordLLMProviderAttempt(s.fallback.Name(), "success", "")
			return text
		}
		telemetry.RecordLLMProviderAttempt(s.fallback.Name(), "error", ErrorCode(err))
		s.log.WithError(err).WithField("provider", s.fallback.Name()).Warn("fallback summary provider failed")
	}

	return FallbackSummary(in)
}
