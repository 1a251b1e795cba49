// Package github reads a repository's issues and pull requests through the
// gh CLI.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/volary-ai/analyzer-agent/errors"
)

var (
	// ErrNotGitHubRepo indicates the origin remote is missing or not on GitHub.
	ErrNotGitHubRepo = errors.Sentinel("not a GitHub repository")
	// ErrAuthFailed indicates gh has no usable credentials.
	ErrAuthFailed = errors.Sentinel("GitHub authentication failed")
	// ErrGHNotInstalled indicates the gh CLI is not on the PATH.
	ErrGHNotInstalled = errors.Sentinel("gh CLI is not installed")
)

// OriginURL returns the URL of the origin remote of the repository at dir.
func OriginURL(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "remote", "get-url", "origin")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrapf(ErrNotGitHubRepo, "no origin remote")
	}
	return strings.TrimSpace(string(out)), nil
}

// ParseRemote extracts owner/repo from an ssh or https GitHub remote URL.
func ParseRemote(remote string) (string, error) {
	var repo string
	switch {
	case strings.HasPrefix(remote, "git@github.com:"):
		repo = strings.TrimPrefix(remote, "git@github.com:")
	case strings.Contains(remote, "github.com/"):
		_, repo, _ = strings.Cut(remote, "github.com/")
	default:
		return "", ErrNotGitHubRepo
	}
	repo = strings.TrimSuffix(strings.TrimSuffix(repo, "/"), ".git")
	if owner, name, ok := strings.Cut(repo, "/"); !ok || owner == "" || name == "" {
		return "", ErrNotGitHubRepo
	}
	return repo, nil
}

// DetectRepo returns owner/repo for the repository at dir.
func DetectRepo(ctx context.Context, dir string) (string, error) {
	remote, err := OriginURL(ctx, dir)
	if err != nil {
		return "", err
	}
	return ParseRemote(remote)
}

// Issue is an issue or pull request as returned by the REST API.
type Issue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	HTMLURL     string    `json:"html_url"`
	UpdatedAt   time.Time `json:"updated_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

// IsPullRequest reports whether the issue is a pull request.
func (i Issue) IsPullRequest() bool { return i.PullRequest != nil }

// runner executes gh and returns its stdout.
type runner func(ctx context.Context, args ...string) ([]byte, error)

// Client calls the GitHub API through gh, which takes care of
// authentication, including GH_TOKEN and GITHUB_TOKEN.
type Client struct {
	run runner
}

// NewClient returns a client using the gh binary on the PATH.
func NewClient() (*Client, error) {
	gh, err := exec.LookPath("gh")
	if err != nil {
		return nil, ErrGHNotInstalled
	}
	return &Client{run: func(ctx context.Context, args ...string) ([]byte, error) {
		out, err := exec.CommandContext(ctx, gh, args...).Output()
		if err != nil {
			return nil, classifyGHError(err)
		}
		return out, nil
	}}, nil
}

// FetchIssues returns every issue and pull request of repo, or only those
// updated since the given time when it is non-zero.
func (c *Client) FetchIssues(ctx context.Context, repo string, since time.Time) ([]Issue, error) {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("per_page", "100")
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	out, err := c.run(ctx, "api", "--paginate", "repos/"+repo+"/issues?"+q.Encode())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch issues for %s", repo)
	}
	return decodePages(out)
}

// decodePages decodes the concatenated JSON arrays gh prints when paginating.
func decodePages(data []byte) ([]Issue, error) {
	var all []Issue
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var page []Issue
		if err := dec.Decode(&page); err != nil {
			if err == io.EOF {
				return all, nil
			}
			return nil, errors.Wrapf(err, "failed to parse gh output")
		}
		all = append(all, page...)
	}
}

func classifyGHError(err error) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return errors.Wrapf(err, "gh command failed")
	}
	return classifyStderr(string(exitErr.Stderr), err)
}

func classifyStderr(stderr string, err error) error {
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "401") ||
		strings.Contains(lower, "auth") ||
		strings.Contains(lower, "credentials") ||
		strings.Contains(lower, "gh auth login") {
		return ErrAuthFailed
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		return errors.New("gh command failed: %s", msg)
	}
	return errors.Wrapf(err, "gh command failed")
}
