package domain

// AgentProvider identifies the coding-agent backend used for a run
type AgentProvider string

const (
	ProviderClaudeCode AgentProvider = "claude_code"
	ProviderCodex      AgentProvider = "codex"
)

// KnownProvider reports whether p is a supported agent provider
func KnownProvider(p AgentProvider) bool {
	switch p {
	case ProviderClaudeCode, ProviderCodex:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobNoChanges JobStatus = "no_changes"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether s is a final job state
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobNoChanges, JobFailed, JobCancelled:
		return true
	}
	return false
}

// FailReason classifies why a job reached the failed state
type FailReason string

const (
	ReasonClone   FailReason = "clone_error"
	ReasonAgent   FailReason = "agent_error"
	ReasonPublish FailReason = "publish_error"
)
