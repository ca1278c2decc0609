// Package driver executes one job from clone to terminal state. The driver
// owns the agent session for the job's prompt steps and decides, from the
// workspace state after the final step, whether the job publishes or ends
// as a no-op.
package driver

import (
	"context"
	"fmt"

	"github.com/patchstorm/patchstorm/internal/agent"
	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/publisher"
	"github.com/patchstorm/patchstorm/internal/retry"
)

// Workspace is the job working clone as the driver consumes it.
// *workspace.Workspace satisfies it.
type Workspace interface {
	publisher.Workspace
	HasChanges() (bool, error)
	Remove() error
	Workdir() string
}

// WorkspaceManager provisions workspaces for jobs
type WorkspaceManager interface {
	Clone(ctx context.Context, repo domain.RepoID, jobKey string) (Workspace, error)
}

// Outcome is the terminal result of driving one job
type Outcome struct {
	Status      domain.JobStatus
	Reason      domain.FailReason
	StepIndex   int
	LastError   string
	Publish     *publisher.Outcome
	Stats       domain.AgentStats
	DiffSummary string
}

// Driver runs jobs through the clone, prompt, and publish phases
type Driver struct {
	Workspaces WorkspaceManager
	Publisher  *publisher.Publisher
	Retry      retry.Policy
}

// New creates a Driver with the given collaborators
func New(workspaces WorkspaceManager, pub *publisher.Publisher, policy retry.Policy) *Driver {
	return &Driver{Workspaces: workspaces, Publisher: pub, Retry: policy}
}

// Run drives the job to a terminal status. Errors inside the phases are
// absorbed into the returned Outcome; the error return is reserved for the
// context being cancelled, in which case the job should be redelivered
// rather than finished.
func (d *Driver) Run(ctx context.Context, job *domain.Job, def *domain.TaskDefinition, runner agent.Runner) (*Outcome, error) {
	ws, err := d.clone(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Outcome{
			Status:    domain.JobFailed,
			Reason:    domain.ReasonClone,
			StepIndex: -1,
			LastError: err.Error(),
		}, nil
	}
	defer ws.Remove()

	// One session carries the conversational context across all steps. A
	// retried step reuses the session; a retried job starts over with a
	// fresh one.
	session := agent.NewSession()
	var stats domain.AgentStats
	stats.Provider = runner.Provider()

	for i, prompt := range def.Prompts {
		res, err := d.invoke(ctx, runner, agent.Invocation{
			Prompt:  prompt,
			Workdir: ws.Workdir(),
			Session: session,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return &Outcome{
				Status:    domain.JobFailed,
				Reason:    domain.ReasonAgent,
				StepIndex: i,
				LastError: err.Error(),
				Stats:     stats,
			}, nil
		}
		session = res.Session
		stats.CostUSD += res.CostUSD
		stats.DurationMS += res.DurationMS
		stats.TokensInput += res.TokensInput
		stats.TokensOutput += res.TokensOutput
	}

	dirty, err := ws.HasChanges()
	if err != nil {
		return &Outcome{
			Status:    domain.JobFailed,
			Reason:    domain.ReasonPublish,
			StepIndex: -1,
			LastError: fmt.Sprintf("inspecting workspace: %v", err),
			Stats:     stats,
		}, nil
	}
	if !dirty {
		return &Outcome{Status: domain.JobNoChanges, StepIndex: -1, Stats: stats}, nil
	}

	pub, err := d.publish(ctx, ws, job, def, stats)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Outcome{
			Status:    domain.JobFailed,
			Reason:    domain.ReasonPublish,
			StepIndex: -1,
			LastError: err.Error(),
			Stats:     stats,
		}, nil
	}

	return &Outcome{
		Status:      domain.JobSucceeded,
		StepIndex:   -1,
		Publish:     pub,
		Stats:       stats,
		DiffSummary: pub.DiffSummary,
	}, nil
}

func (d *Driver) clone(ctx context.Context, job *domain.Job) (Workspace, error) {
	var ws Workspace
	err := d.Retry.Do(ctx, func() error {
		var err error
		ws, err = d.Workspaces.Clone(ctx, job.Repo, job.Key)
		return err
	})
	return ws, err
}

func (d *Driver) invoke(ctx context.Context, runner agent.Runner, inv agent.Invocation) (*agent.Result, error) {
	var res *agent.Result
	err := d.Retry.Do(ctx, func() error {
		var err error
		res, err = runner.Invoke(ctx, inv)
		return err
	})
	return res, err
}

func (d *Driver) publish(ctx context.Context, ws Workspace, job *domain.Job, def *domain.TaskDefinition, stats domain.AgentStats) (*publisher.Outcome, error) {
	var out *publisher.Outcome
	err := d.Retry.Do(ctx, func() error {
		var err error
		out, err = d.Publisher.Publish(ctx, ws, job, def, stats)
		return err
	})
	return out, err
}
