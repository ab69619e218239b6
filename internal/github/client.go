package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v39/github"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

// GitHubClientInterface defines the GitHub operations the pipeline needs
type GitHubClientInterface interface {
	SetStatus(ctx context.Context, commit Commit, status Status) error
	Comment(ctx context.Context, owner, repo string, pr int, body string) error
}

type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a client authenticating with token. Transient
// failures (connection errors, 5xx, 429) are retried.
func NewGitHubClient(token string) *GitHubClient {
	return newGitHubClient(token, 3)
}

func newGitHubClient(token string, retryMax int) *GitHubClient {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient = oauth2.NewClient(ctx, ts)

	return &GitHubClient{
		client: github.NewClient(rc.StandardClient()),
	}
}

// WithBaseURL points the client at a GitHub Enterprise API root
func (c *GitHubClient) WithBaseURL(baseURL string) (*GitHubClient, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
	}
	c.client.BaseURL = u
	return c, nil
}

// SetStatus publishes a commit status
func (c *GitHubClient) SetStatus(ctx context.Context, commit Commit, status Status) error {
	if !status.State.Valid() {
		return fmt.Errorf("invalid status state %q", status.State)
	}
	if commit.SHA == "" {
		return errors.New("commit SHA is required to set a status")
	}

	repoStatus := &github.RepoStatus{
		State:       github.String(string(status.State)),
		Context:     github.String(status.Context),
		Description: github.String(truncateDescription(status.Description)),
	}
	if status.TargetURL != "" {
		repoStatus.TargetURL = github.String(status.TargetURL)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, _, err := c.client.Repositories.CreateStatus(ctx, commit.Owner, commit.Repo, commit.SHA, repoStatus); err != nil {
		return fmt.Errorf("failed to set status %s on %s/%s@%s: %w", status.Context, commit.Owner, commit.Repo, shortSHA(commit.SHA), err)
	}
	return nil
}

// Comment adds a comment to a pull request
func (c *GitHubClient) Comment(ctx context.Context, owner, repo string, pr int, body string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	comment := &github.IssueComment{Body: github.String(body)}
	if _, _, err := c.client.Issues.CreateComment(ctx, owner, repo, pr, comment); err != nil {
		return fmt.Errorf("failed to comment on %s/%s#%d: %w", owner, repo, pr, err)
	}
	return nil
}

func truncateDescription(s string) string {
	r := []rune(s)
	if len(r) <= maxDescriptionLength {
		return s
	}
	return string(r[:maxDescriptionLength-3]) + "..."
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
