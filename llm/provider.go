// Package llm generates repository architecture summaries through
// OpenAI-compatible chat completion providers, with a deterministic
// template fallback when no provider is available or all of them fail.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SummaryProvider produces a completion for a summary prompt.
type SummaryProvider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// ProviderError carries a short machine-readable code for metrics labels.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode maps a provider failure to a metrics label.
func ErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "request_failed"
}

const systemPrompt = "You summarize repository architecture for developers."

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenAIProvider speaks the OpenAI chat completions wire format, which
// both OpenRouter and Groq expose.
type OpenAIProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIProvider builds a provider for one upstream endpoint.
func NewOpenAIProvider(name, baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Complete sends one chat completion request and returns the trimmed text.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   220,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return "", &ProviderError{Code: "timeout", Message: err.Error()}
		}
		return "", &ProviderError{Code: "request_failed", Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &ProviderError{Code: "request_failed", Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
			Message: fmt.Sprintf("%s returned status %d", p.name, resp.StatusCode),
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &ProviderError{Code: "bad_response", Message: err.Error()}
	}
	if len(decoded.Choices) == 0 {
		return "", &ProviderError{Code: "empty_response", Message: "no completion choices"}
	}

	text := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if text == "" {
		return "", &ProviderError{Code: "empty_response", Message: "completion content was empty"}
	}
	return text, nil
}
