// Package github wraps the GitHub REST and OAuth surfaces: repository URL
// normalization, public metadata snapshots with retry, and the login flow.
package github

import (
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidRepoURL marks user-supplied repository URLs that cannot be
// normalized. Callers map it to a bad-request response.
type ErrInvalidRepoURL struct {
	Reason string
}

func (e *ErrInvalidRepoURL) Error() string { return e.Reason }

// NormalizeRepoURL canonicalizes a github.com repository URL to the
// https://github.com/{owner}/{repo} form, trimming a trailing .git.
func NormalizeRepoURL(raw string) (normalized, owner, repo string, err error) {
	parsed, parseErr := url.Parse(strings.TrimSpace(raw))
	if parseErr != nil {
		return "", "", "", &ErrInvalidRepoURL{Reason: "Invalid GitHub URL"}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || strings.ToLower(parsed.Host) != "github.com" {
		return "", "", "", &ErrInvalidRepoURL{Reason: "Only github.com repository URLs are supported"}
	}

	var parts []string
	for _, p := range strings.Split(parsed.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", "", "", &ErrInvalidRepoURL{Reason: "GitHub URL must be in /owner/repo format"}
	}

	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if owner == "" || repo == "" {
		return "", "", "", &ErrInvalidRepoURL{Reason: "Invalid GitHub repository path"}
	}

	return fmt.Sprintf("https://github.com/%s/%s", owner, repo), owner, repo, nil
}
