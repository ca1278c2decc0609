// Package status aggregates the persisted job states of a run into a
// single report: per-status counts, failure details, and the pull requests
// produced so far.
package status

import (
	"fmt"

	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/jobstore"
)

// Aggregator reads run progress out of the job store
type Aggregator struct {
	Store *jobstore.Store
}

// New creates an Aggregator
func New(store *jobstore.Store) *Aggregator {
	return &Aggregator{Store: store}
}

// Summary is a point-in-time view of one run
type Summary struct {
	Run       *domain.Run
	Jobs      []*domain.Job
	Counts    map[domain.JobStatus]int
	Total     int
	Done      bool // every job is in a terminal state
	Publishes map[string]*domain.PublishRecord // keyed by job ID
}

// Failures returns the failed jobs in listing order
func (s *Summary) Failures() []*domain.Job {
	var failed []*domain.Job
	for _, j := range s.Jobs {
		if j.Status == domain.JobFailed {
			failed = append(failed, j)
		}
	}
	return failed
}

// Summarize builds the summary for runID. An empty runID selects the most
// recently created run.
func (a *Aggregator) Summarize(runID string) (*Summary, error) {
	if runID == "" {
		latest, err := a.Store.LatestRunID()
		if err != nil {
			return nil, fmt.Errorf("finding latest run: %w", err)
		}
		runID = latest
	}

	run, err := a.Store.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}

	jobs, err := a.Store.ListJobs(runID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	counts := make(map[domain.JobStatus]int)
	done := true
	for _, j := range jobs {
		counts[j.Status]++
		if !j.Status.IsTerminal() {
			done = false
		}
	}

	records, err := a.Store.ListPublishes(runID)
	if err != nil {
		return nil, fmt.Errorf("listing publishes: %w", err)
	}
	publishes := make(map[string]*domain.PublishRecord, len(records))
	for _, rec := range records {
		publishes[rec.JobID] = rec
	}

	return &Summary{
		Run:       run,
		Jobs:      jobs,
		Counts:    counts,
		Total:     len(jobs),
		Done:      done,
		Publishes: publishes,
	}, nil
}
