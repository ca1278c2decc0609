// Package githost talks to the source hosting platform. The production
// implementation shells out to the gh CLI; consumers depend on the Client
// interface so tests can substitute a fake.
package githost

import (
	"context"

	"github.com/patchstorm/patchstorm/internal/domain"
)

// PullRequest is an open pull request on the host
type PullRequest struct {
	Number int
	URL    string
	Title  string
}

// PROptions describes a pull request to create
type PROptions struct {
	Branch    string
	Title     string
	Body      string
	Draft     bool
	Reviewers []string
	Labels    []string
}

// Client is the remote source-host API the pipeline consumes
type Client interface {
	// SearchRepos runs a code search and returns the repositories of the
	// matches in result order, deduplicated.
	SearchRepos(ctx context.Context, query string) ([]domain.RepoID, error)

	// FindOpenPR returns the open pull request whose head is branch, or nil
	// if none exists.
	FindOpenPR(ctx context.Context, repo domain.RepoID, branch string) (*PullRequest, error)

	// CreatePR opens a pull request and returns it.
	CreatePR(ctx context.Context, repo domain.RepoID, opts PROptions) (*PullRequest, error)

	// UpdatePR refreshes the title and body of an existing pull request.
	UpdatePR(ctx context.Context, repo domain.RepoID, number int, title, body string) error
}
