package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-billy/v5/memfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Directories that carry no signal for retrieval.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
}

// GitFetcher clones repositories shallowly into memory and extracts their
// text files. Nothing touches disk; the clone is garbage once extracted.
type GitFetcher struct {
	token        string
	maxFileBytes int
}

// NewGitFetcher creates a fetcher. token may be empty for public repos.
func NewGitFetcher(token string, maxFileBytes int) *GitFetcher {
	if maxFileBytes <= 0 {
		maxFileBytes = 512 * 1024
	}
	return &GitFetcher{token: token, maxFileBytes: maxFileBytes}
}

// Fetch clones repoURL at depth 1 and returns its decodable files in
// deterministic path order.
func (g *GitFetcher) Fetch(ctx context.Context, repoURL string) ([]SourceUnit, error) {
	log := clog.FromContext(ctx)

	opts := &git.CloneOptions{URL: repoURL, Depth: 1, SingleBranch: true}
	if g.token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: g.token}
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), memfs.New(), opts)
	if err != nil {
		return nil, &FetchError{Kind: classifyGitError(err), Repo: repoURL, Err: err}
	}

	head, err := repo.Head()
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Repo: repoURL, Err: err}
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Repo: repoURL, Err: err}
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Repo: repoURL, Err: err}
	}

	var units []SourceUnit
	skipped := 0
	err = tree.Files().ForEach(func(f *object.File) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if inSkippedDir(f.Name) || f.Size > int64(g.maxFileBytes) {
			skipped++
			return nil
		}
		if bin, err := f.IsBinary(); err != nil || bin {
			skipped++
			return nil
		}
		text, err := f.Contents()
		if err != nil {
			skipped++
			return nil
		}
		units = append(units, SourceUnit{Path: f.Name, Text: text})
		return nil
	})
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Repo: repoURL, Err: err}
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Path < units[j].Path })
	log.With("repo", repoURL, "files", len(units), "skipped", skipped).Info("fetched repository")
	return units, nil
}

func inSkippedDir(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if skippedDirs[part] {
			return true
		}
	}
	return false
}

func classifyGitError(err error) string {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return KindNotFound
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return KindAuth
	default:
		return KindNetwork
	}
}

// RepoName extracts the trailing "owner/name" identity from a clone URL.
func RepoName(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 {
		return fmt.Sprintf("%s/%s", parts[len(parts)-2], parts[len(parts)-1])
	}
	return trimmed
}
