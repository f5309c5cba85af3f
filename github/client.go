package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v56/github"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrRepoNotFound is returned when github.com has no repository at the
	// given path (or it is private).
	ErrRepoNotFound = errors.New("repository not found")

	// ErrUpstream is returned when GitHub answered but not usefully.
	ErrUpstream = errors.New("github upstream error")
)

var (
	retryMinWaitDuration        = 1 * time.Second
	retryMaxAttempts     uint64 = 3
)

// RepoSnapshot is the public metadata of a repository pinned to the head
// commit of its default branch.
type RepoSnapshot struct {
	GithubURL     string
	FullName      string
	Owner         string
	Name          string
	DefaultBranch string
	CommitSHA     string
	Description   *string
	Stars         *int
	Forks         *int
	Language      *string
	SizeKB        *int
}

// Contributor is one entry of a repository's contributor leaderboard.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
	AvatarURL     string `json:"avatar_url,omitempty"`
}

// Client fetches public repository metadata. Requests are unauthenticated;
// rate-limit and 5xx responses are retried with fibonacci backoff.
type Client struct {
	api *gh.Client
}

// NewClient builds a metadata client. httpClient may be nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{api: gh.NewClient(httpClient)}
}

// WithBaseURL points the client at a different API endpoint, used by tests.
func (c *Client) WithBaseURL(baseURL string) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	api := gh.NewClient(c.api.Client())
	api.BaseURL = parsed
	return &Client{api: api}, nil
}

func convertRetryable(resp *gh.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusForbidden, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return retry.RetryableError(err)
		}
	}
	return err
}

// ResolveSnapshot normalizes the URL, fetches repository metadata and
// resolves the default branch to its head commit SHA.
func (c *Client) ResolveSnapshot(ctx context.Context, githubURL string) (*RepoSnapshot, error) {
	normalized, owner, name, err := NormalizeRepoURL(githubURL)
	if err != nil {
		return nil, err
	}

	var repo *gh.Repository
	backoff := retry.WithMaxRetries(retryMaxAttempts, retry.NewFibonacci(retryMinWaitDuration))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var resp *gh.Response
		var apiErr error
		repo, resp, apiErr = c.api.Repositories.Get(ctx, owner, name)
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ErrRepoNotFound
		}
		return convertRetryable(resp, apiErr)
	})
	if errors.Is(err, ErrRepoNotFound) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch repository metadata: %v", ErrUpstream, err)
	}

	defaultBranch := repo.GetDefaultBranch()
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	var commit *gh.RepositoryCommit
	backoff = retry.WithMaxRetries(retryMaxAttempts, retry.NewFibonacci(retryMinWaitDuration))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var resp *gh.Response
		var apiErr error
		commit, resp, apiErr = c.api.Repositories.GetCommit(ctx, owner, name, defaultBranch, nil)
		return convertRetryable(resp, apiErr)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve repository head commit: %v", ErrUpstream, err)
	}
	if commit.GetSHA() == "" {
		return nil, fmt.Errorf("%w: repository head commit SHA missing", ErrUpstream)
	}

	snapshot := &RepoSnapshot{
		GithubURL:     normalized,
		FullName:      repo.GetFullName(),
		Owner:         owner,
		Name:          name,
		DefaultBranch: defaultBranch,
		CommitSHA:     commit.GetSHA(),
	}
	if snapshot.FullName == "" {
		snapshot.FullName = owner + "/" + name
	}
	if login := repo.GetOwner().GetLogin(); login != "" {
		snapshot.Owner = login
	}
	if apiName := repo.GetName(); apiName != "" {
		snapshot.Name = apiName
	}
	if repo.Description != nil {
		snapshot.Description = repo.Description
	}
	if repo.StargazersCount != nil {
		snapshot.Stars = repo.StargazersCount
	}
	if repo.ForksCount != nil {
		snapshot.Forks = repo.ForksCount
	}
	if repo.Language != nil {
		snapshot.Language = repo.Language
	}
	if repo.Size != nil {
		snapshot.SizeKB = repo.Size
	}
	return snapshot, nil
}

// StatusCode extracts the HTTP status behind an API error, or 0 when the
// request never reached GitHub.
func StatusCode(err error) int {
	var apiErr *gh.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.StatusCode
	}
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) && rateErr.Response != nil {
		return rateErr.Response.StatusCode
	}
	return 0
}

// TopContributors returns up to limit contributors by commit count. Failures
// are returned to the caller, who treats the leaderboard as best effort.
func (c *Client) TopContributors(ctx context.Context, owner, name string, limit int) ([]Contributor, error) {
	if limit <= 0 {
		limit = 10
	}
	opts := &gh.ListContributorsOptions{
		ListOptions: gh.ListOptions{PerPage: limit},
	}
	raw, _, err := c.api.Repositories.ListContributors(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributors: %w", err)
	}

	contributors := make([]Contributor, 0, limit)
	for _, entry := range raw {
		if len(contributors) == limit {
			break
		}
		contributors = append(contributors, Contributor{
			Login:         entry.GetLogin(),
			Contributions: entry.GetContributions(),
			AvatarURL:     entry.GetAvatarURL(),
		})
	}
	return contributors, nil
}
