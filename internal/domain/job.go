package domain

import "time"

// Run represents one submission of a TaskDefinition: the fan-out unit that
// owns a set of jobs.
type Run struct {
	ID         string
	TaskHash   string
	Definition *TaskDefinition
	CreatedAt  time.Time
}

// Job is one task definition applied to one repository, the unit of
// distributed scheduling. A job is created by the dispatcher and thereafter
// mutated only by the worker holding its claim.
type Job struct {
	ID        string
	RunID     string
	Key       string // idempotency key: hash of (task content, repo)
	Repo      RepoID
	Status    JobStatus
	Reason    FailReason // set when Status == JobFailed
	StepIndex int        // prompt step the job failed at, -1 otherwise
	Attempts  int
	LastError string
	RunAfter  time.Time // earliest claim time, used for backoff-delayed retry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublishRecord ties a pushed branch and its tracking pull request to a job
type PublishRecord struct {
	JobID     string
	Branch    string
	CommitSHA string
	PRNumber  int
	PRURL     string
	CreatedAt time.Time
}

// AgentStats accumulates usage reported by the agent backend across the
// prompt steps of one job.
type AgentStats struct {
	Provider     AgentProvider
	CostUSD      float64
	DurationMS   int64
	TokensInput  int
	TokensOutput int
}
