// Package publisher turns a mutated workspace into a pushed branch and a
// tracking pull request. Publishing is idempotent: branch names derive from
// the job key, pushes are forced, and an already-open pull request for the
// branch is updated instead of duplicated.
package publisher

import (
	"context"
	"fmt"

	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/githost"
)

// Workspace is the slice of the job workspace the publisher needs.
// *workspace.Workspace satisfies it.
type Workspace interface {
	Commit(branch, message string) (string, error)
	Push(ctx context.Context, branch string) error
	DiffSummary() (string, error)
}

const branchPrefix = "patchstorm/"

// BranchName returns the deterministic branch for a job key. Re-running the
// same task against the same repo always lands on the same branch.
func BranchName(jobKey string) string {
	key := jobKey
	if len(key) > 12 {
		key = key[:12]
	}
	return branchPrefix + key
}

// Publisher pushes branches and manages their pull requests
type Publisher struct {
	Host          githost.Client
	TrackingLabel string
}

// New creates a Publisher using the given host client. trackingLabel is
// attached to every created pull request so runs can be found later.
func New(host githost.Client, trackingLabel string) *Publisher {
	return &Publisher{Host: host, TrackingLabel: trackingLabel}
}

// Outcome is the result of one publish
type Outcome struct {
	Record      domain.PublishRecord
	DiffSummary string
	DryRun      bool
	SkipPR      bool
	Updated     bool // existing PR refreshed instead of created
}

// Publish commits the workspace changes and, unless the definition opts
// out, pushes the branch and opens or updates the tracking pull request.
// The caller has already established that the workspace is dirty.
func (p *Publisher) Publish(ctx context.Context, ws Workspace, job *domain.Job, def *domain.TaskDefinition, stats domain.AgentStats) (*Outcome, error) {
	if def.SkipPR {
		return &Outcome{SkipPR: true}, nil
	}

	branch := BranchName(job.Key)
	sha, err := ws.Commit(branch, def.CommitMessage)
	if err != nil {
		return nil, fmt.Errorf("committing changes: %w", err)
	}

	if def.DryRun {
		summary, err := ws.DiffSummary()
		if err != nil {
			return nil, fmt.Errorf("summarizing changes: %w", err)
		}
		return &Outcome{DryRun: true, DiffSummary: summary}, nil
	}

	if err := ws.Push(ctx, branch); err != nil {
		return nil, fmt.Errorf("pushing branch: %w", err)
	}

	body := prBody(stats)

	existing, err := p.Host.FindOpenPR(ctx, job.Repo, branch)
	if err != nil {
		return nil, fmt.Errorf("looking up open pull request: %w", err)
	}

	outcome := &Outcome{
		Record: domain.PublishRecord{
			JobID:     job.ID,
			Branch:    branch,
			CommitSHA: sha,
		},
	}

	if existing != nil {
		if err := p.Host.UpdatePR(ctx, job.Repo, existing.Number, def.CommitMessage, body); err != nil {
			return nil, fmt.Errorf("updating pull request #%d: %w", existing.Number, err)
		}
		outcome.Record.PRNumber = existing.Number
		outcome.Record.PRURL = existing.URL
		outcome.Updated = true
		return outcome, nil
	}

	var labels []string
	if p.TrackingLabel != "" {
		labels = []string{p.TrackingLabel}
	}
	pr, err := p.Host.CreatePR(ctx, job.Repo, githost.PROptions{
		Branch:    branch,
		Title:     def.CommitMessage,
		Body:      body,
		Draft:     def.Draft,
		Reviewers: def.Reviewers,
		Labels:    labels,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", err)
	}
	outcome.Record.PRNumber = pr.Number
	outcome.Record.PRURL = pr.URL
	return outcome, nil
}

func prBody(stats domain.AgentStats) string {
	return fmt.Sprintf(
		"This is an AI generated PR.\n\nAgent: %s\nExecution time: %d ms\nCost: $%.2f",
		stats.Provider, stats.DurationMS, stats.CostUSD)
}
