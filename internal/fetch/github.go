package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

// GitHubIssues fetches open issue threads via the GitHub API.
type GitHubIssues struct {
	client   *github.Client
	maxPages int
}

// NewGitHubIssues creates an issue client. token may be empty, in which
// case unauthenticated rate limits apply.
func NewGitHubIssues(token string) *GitHubIssues {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubIssues{client: client, maxPages: 5}
}

// Issues returns the repository's open issues with their comments in
// chronological order. Unfetchable comments are tolerated; the issue is
// kept with whatever was retrieved.
func (g *GitHubIssues) Issues(ctx context.Context, repoURL string) ([]Issue, error) {
	log := clog.FromContext(ctx)

	owner, name, err := splitOwnerRepo(repoURL)
	if err != nil {
		return nil, &FetchError{Kind: KindNotFound, Repo: repoURL, Err: err}
	}

	var issues []Issue
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for page := 0; page < g.maxPages; page++ {
		list, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, &FetchError{Kind: classifyGitHubError(resp), Repo: repoURL, Err: err}
		}
		for _, gi := range list {
			if gi.IsPullRequest() {
				continue
			}
			issue := Issue{
				Number: gi.GetNumber(),
				Title:  gi.GetTitle(),
				Body:   gi.GetBody(),
			}
			if gi.GetComments() > 0 {
				comments, err := g.comments(ctx, owner, name, issue.Number)
				if err != nil {
					// Partial failure: keep the issue without comments.
					log.With("issue", issue.Number, "error", err).Warn("comments unavailable")
				} else {
					issue.Comments = comments
				}
			}
			issues = append(issues, issue)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}
	log.With("repo", repoURL, "issues", len(issues)).Info("fetched issues")
	return issues, nil
}

func (g *GitHubIssues) comments(ctx context.Context, owner, name string, number int) ([]string, error) {
	sortKey := "created"
	list, _, err := g.client.Issues.ListComments(ctx, owner, name, number, &github.IssueListCommentsOptions{
		Sort:        &sortKey,
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.GetBody())
	}
	return out, nil
}

func splitOwnerRepo(repoURL string) (string, string, error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot parse owner/repo from %q", repoURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

func classifyGitHubError(resp *github.Response) string {
	if resp == nil {
		return KindNetwork
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	default:
		return KindNetwork
	}
}
