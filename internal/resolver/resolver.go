// Package resolver turns a task definition's repository selector into a
// concrete, deduplicated, order-stable set of target repositories.
package resolver

import (
	"context"
	"fmt"

	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/githost"
)

// Resolver computes the target repository set for a selector
type Resolver struct {
	host githost.Client
}

// New creates a Resolver backed by the given host client
func New(host githost.Client) *Resolver {
	return &Resolver{host: host}
}

// Resolve returns the union of the include list and the search results,
// minus the excludes, deduplicated. Include-list order is preserved ahead of
// search-result order. A failed search fails the whole resolution; an empty
// result is valid and yields zero jobs.
func (r *Resolver) Resolve(ctx context.Context, sel domain.RepoSelector) ([]domain.RepoID, error) {
	excluded := make(map[domain.RepoID]bool, len(sel.Exclude))
	for _, repo := range sel.Exclude {
		excluded[repo] = true
	}

	seen := make(map[domain.RepoID]bool)
	var repos []domain.RepoID
	add := func(repo domain.RepoID) {
		if seen[repo] || excluded[repo] {
			return
		}
		seen[repo] = true
		repos = append(repos, repo)
	}

	for _, repo := range sel.Include {
		add(repo)
	}

	if sel.SearchQuery != "" {
		found, err := r.host.SearchRepos(ctx, sel.SearchQuery)
		if err != nil {
			return nil, fmt.Errorf("resolving search query %q: %w", sel.SearchQuery, err)
		}
		for _, repo := range found {
			add(repo)
		}
	}

	return repos, nil
}
