package domain

import (
	"fmt"
	"strings"
)

// RepoID identifies a repository as an owner/name pair. Comparisons are
// case-insensitive; ParseRepoID normalizes to lower case so a RepoID can be
// used directly as a dedup key.
type RepoID struct {
	Owner string
	Name  string
}

// ParseRepoID parses a string like "myorg/myrepo" into a RepoID
func ParseRepoID(s string) (RepoID, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoID{}, fmt.Errorf("invalid repository %q (expected owner/name)", s)
	}
	return RepoID{
		Owner: strings.ToLower(parts[0]),
		Name:  strings.ToLower(parts[1]),
	}, nil
}

// ParseRepoList parses a comma-separated list of owner/name pairs
func ParseRepoList(s string) ([]RepoID, error) {
	var repos []RepoID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		repo, err := ParseRepoID(part)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// String returns the canonical owner/name form
func (r RepoID) String() string {
	return r.Owner + "/" + r.Name
}
