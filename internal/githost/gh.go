package githost

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/patchstorm/patchstorm/internal/domain"
)

// GH implements Client on top of the gh CLI. Authentication comes from the
// gh login or GITHUB_TOKEN, matching the rest of the git tooling.
type GH struct {
	// Organization scopes code searches when set; archived repositories are
	// always excluded from search results.
	Organization string
}

// NewGH creates a gh-CLI-backed client
func NewGH(organization string) *GH {
	return &GH{Organization: organization}
}

type searchItem struct {
	Repository struct {
		NameWithOwner string `json:"nameWithOwner"`
		IsArchived    bool   `json:"isArchived"`
	} `json:"repository"`
}

// SearchRepos runs a code search and returns repositories in result order
func (g *GH) SearchRepos(ctx context.Context, query string) ([]domain.RepoID, error) {
	args := []string{"search", "code", query, "--limit", "1000", "--json", "repository"}
	if g.Organization != "" {
		args = append(args, "--owner", g.Organization)
	}
	cmd := exec.CommandContext(ctx, "gh", args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("gh search code: %s: %w", cmdStderr(err), err)
	}

	var items []searchItem
	if err := json.Unmarshal(out, &items); err != nil {
		return nil, fmt.Errorf("parsing search results: %w", err)
	}

	seen := make(map[domain.RepoID]bool)
	var repos []domain.RepoID
	for _, item := range items {
		if item.Repository.IsArchived {
			continue
		}
		repo, err := domain.ParseRepoID(item.Repository.NameWithOwner)
		if err != nil {
			continue
		}
		if seen[repo] {
			continue
		}
		seen[repo] = true
		repos = append(repos, repo)
	}
	return repos, nil
}

// FindOpenPR returns the open PR whose head is branch, or nil
func (g *GH) FindOpenPR(ctx context.Context, repo domain.RepoID, branch string) (*PullRequest, error) {
	cmd := exec.CommandContext(ctx, "gh", "pr", "list",
		"--repo", repo.String(),
		"--head", branch,
		"--state", "open",
		"--json", "number,url,title",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("gh pr list: %s: %w", cmdStderr(err), err)
	}

	var prs []struct {
		Number int    `json:"number"`
		URL    string `json:"url"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, fmt.Errorf("parsing pr list: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &PullRequest{Number: prs[0].Number, URL: prs[0].URL, Title: prs[0].Title}, nil
}

// CreatePR opens a pull request via gh pr create
func (g *GH) CreatePR(ctx context.Context, repo domain.RepoID, opts PROptions) (*PullRequest, error) {
	args := []string{"pr", "create",
		"--repo", repo.String(),
		"--head", opts.Branch,
		"--title", opts.Title,
		"--body", opts.Body,
	}
	if opts.Draft {
		args = append(args, "--draft")
	}
	for _, r := range opts.Reviewers {
		args = append(args, "--reviewer", r)
	}
	for _, l := range opts.Labels {
		args = append(args, "--label", l)
	}

	cmd := exec.CommandContext(ctx, "gh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("gh pr create: %s: %w", strings.TrimSpace(string(out)), err)
	}

	url := strings.TrimSpace(string(out))
	return &PullRequest{Number: extractPRNumber(url), URL: url, Title: opts.Title}, nil
}

// UpdatePR refreshes the title and body of an existing pull request
func (g *GH) UpdatePR(ctx context.Context, repo domain.RepoID, number int, title, body string) error {
	cmd := exec.CommandContext(ctx, "gh", "pr", "edit", fmt.Sprintf("%d", number),
		"--repo", repo.String(),
		"--title", title,
		"--body", body,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("gh pr edit: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func extractPRNumber(url string) int {
	// URL format: https://github.com/owner/repo/pull/123
	parts := strings.Split(strings.TrimSpace(url), "/")
	if len(parts) > 0 {
		var num int
		fmt.Sscanf(parts[len(parts)-1], "%d", &num)
		return num
	}
	return 0
}

func cmdStderr(err error) string {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return strings.TrimSpace(string(exitErr.Stderr))
	}
	return ""
}
