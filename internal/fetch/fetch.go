// Package fetch supplies repository content and issue threads from remote
// hosts. These are thin collaborator adapters; the ingestion pipeline
// treats their failures per the error contract below.
package fetch

import (
	"context"
	"fmt"
)

// SourceUnit is one file's worth of decodable repository content.
type SourceUnit struct {
	Path string
	Text string
}

// Issue is one issue thread, immutable once fetched.
type Issue struct {
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Comments []string `json:"comments,omitempty"` // chronological
}

// Error kinds for FetchError.
const (
	KindNetwork  = "network"
	KindAuth     = "auth"
	KindNotFound = "not_found"
)

// FetchError reports a collaborator failure. Ingestion aborts on it and
// publishes no session.
type FetchError struct {
	Kind string
	Repo string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Repo, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RepoFetcher supplies the source units of a repository.
type RepoFetcher interface {
	Fetch(ctx context.Context, repoURL string) ([]SourceUnit, error)
}

// IssueClient supplies the issue threads of a repository. Partial failure
// (some issues or comments unfetchable) is tolerated by returning what
// was retrieved.
type IssueClient interface {
	Issues(ctx context.Context, repoURL string) ([]Issue, error)
}
