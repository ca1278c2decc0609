// Package worker runs the claim-execute loop. A pool of goroutines polls
// the job store; each claimed job is driven to a terminal state and its
// outcome recorded. Jobs interrupted by shutdown are requeued for another
// worker instead of finished.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/patchstorm/patchstorm/internal/agent"
	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/driver"
	"github.com/patchstorm/patchstorm/internal/jobstore"
)

// Runners builds the agent runner for a provider. agent.New satisfies it;
// tests substitute fakes.
type Runners func(provider domain.AgentProvider) (agent.Runner, error)

// Pool polls the job store and executes claimed jobs concurrently
type Pool struct {
	Store        *jobstore.Store
	Driver       *driver.Driver
	Runners      Runners
	Concurrency  int
	PollInterval time.Duration
}

// New creates a Pool with the given concurrency
func New(store *jobstore.Store, drv *driver.Driver, concurrency int, pollInterval time.Duration) *Pool {
	return &Pool{
		Store:        store,
		Driver:       drv,
		Runners:      agent.New,
		Concurrency:  concurrency,
		PollInterval: pollInterval,
	}
}

// Run blocks until ctx is cancelled, executing jobs on Concurrency
// goroutines
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.Store.ClaimNext()
		if err != nil {
			log.Printf("worker %d: claiming job: %v", id, err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.PollInterval):
			}
			continue
		}

		p.Execute(ctx, job)
	}
}

// Execute drives one claimed job to completion and records the outcome.
// Exported so a run with --wait can execute jobs inline without a pool.
func (p *Pool) Execute(ctx context.Context, job *domain.Job) {
	run, err := p.Store.GetRun(job.RunID)
	if err != nil {
		log.Printf("job %s: loading run %s: %v", job.ID, job.RunID, err)
		p.requeue(job, err.Error())
		return
	}
	def := run.Definition

	runner, err := p.Runners(def.Provider)
	if err != nil {
		// Unknown provider cannot succeed on redelivery either
		p.finish(job, &driver.Outcome{
			Status:    domain.JobFailed,
			Reason:    domain.ReasonAgent,
			StepIndex: -1,
			LastError: err.Error(),
		})
		return
	}

	log.Printf("job %s: running %s against %s", job.ID, def.Provider, job.Repo)
	outcome, err := p.Driver.Run(ctx, job, def, runner)
	if err != nil {
		// Shutdown mid-job: release the claim so another worker picks it up
		log.Printf("job %s: interrupted, requeueing: %v", job.ID, err)
		p.requeue(job, err.Error())
		return
	}

	p.finish(job, outcome)
}

func (p *Pool) finish(job *domain.Job, outcome *driver.Outcome) {
	if err := p.Store.FinishJob(job.ID, outcome.Status, outcome.Reason, outcome.StepIndex, outcome.LastError); err != nil {
		log.Printf("job %s: recording outcome: %v", job.ID, err)
		return
	}
	if outcome.Publish != nil && outcome.Publish.Record.Branch != "" {
		rec := outcome.Publish.Record
		rec.CreatedAt = time.Now().UTC()
		if err := p.Store.SavePublish(&rec); err != nil {
			log.Printf("job %s: recording publish: %v", job.ID, err)
		}
	}
	switch outcome.Status {
	case domain.JobFailed:
		log.Printf("job %s: failed (%s) at step %d: %s", job.ID, outcome.Reason, outcome.StepIndex, outcome.LastError)
	case domain.JobNoChanges:
		log.Printf("job %s: no changes for %s", job.ID, job.Repo)
	default:
		log.Printf("job %s: %s", job.ID, outcome.Status)
	}
}

func (p *Pool) requeue(job *domain.Job, lastError string) {
	if err := p.Store.RequeueJob(job.ID, time.Now().UTC(), lastError); err != nil {
		log.Printf("job %s: requeueing: %v", job.ID, err)
	}
}
