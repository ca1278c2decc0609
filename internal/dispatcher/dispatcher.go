// Package dispatcher fans a validated task definition out into jobs. It
// resolves the repository set, persists the run, and enqueues one job per
// repository, skipping repositories whose identical job is still in flight.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/jobstore"
	"github.com/patchstorm/patchstorm/internal/resolver"
)

// Dispatcher creates runs and their jobs
type Dispatcher struct {
	Resolver *resolver.Resolver
	Store    *jobstore.Store
}

// New creates a Dispatcher
func New(res *resolver.Resolver, store *jobstore.Store) *Dispatcher {
	return &Dispatcher{Resolver: res, Store: store}
}

// Receipt summarizes a dispatched run
type Receipt struct {
	RunID    string
	Repos    []domain.RepoID
	Enqueued int
	Skipped  int // repos whose identical job was already in flight
}

// Dispatch validates the definition, resolves the repository set, and
// enqueues one job per repository. An empty resolution is a valid run with
// zero jobs. Resolution failure fails the whole dispatch; no partial run is
// created.
func (d *Dispatcher) Dispatch(ctx context.Context, def *domain.TaskDefinition) (*Receipt, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task definition: %w", err)
	}

	repos, err := d.Resolver.Resolve(ctx, def.Selector)
	if err != nil {
		return nil, fmt.Errorf("resolving repositories: %w", err)
	}

	run := &domain.Run{
		ID:         uuid.NewString(),
		TaskHash:   def.Hash(),
		Definition: def,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.Store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}

	receipt := &Receipt{RunID: run.ID, Repos: repos}
	for _, repo := range repos {
		job := &domain.Job{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			Key:       def.JobKey(repo),
			Repo:      repo,
			Status:    domain.JobPending,
			StepIndex: -1,
		}
		enqueued, err := d.Store.EnqueueJob(job)
		if err != nil {
			return nil, fmt.Errorf("enqueueing job for %s: %w", repo, err)
		}
		if enqueued {
			receipt.Enqueued++
		} else {
			receipt.Skipped++
		}
	}
	return receipt, nil
}
