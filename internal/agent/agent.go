// Package agent drives the coding-agent backends. Each backend shares the
// same invoke contract: one prompt plus the accumulated session context in,
// a mutated workspace plus an updated session out. The backend itself is a
// black box invoked through its CLI.
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/patchstorm/patchstorm/internal/domain"
)

// Session is the cumulative conversational context of one job across its
// ordered prompt steps. It is owned by the driver executing the job and is
// discarded when the job completes; a retried job starts a fresh session.
type Session struct {
	ID    string
	Turns int
}

// NewSession creates an empty session with a unique identifier
func NewSession() Session {
	return Session{ID: uuid.NewString()}
}

// Invocation is one prompt step executed against a workspace
type Invocation struct {
	Prompt  string
	Workdir string
	Session Session
}

// Result is the outcome of a single invocation. The workspace mutation, if
// any, happened in place under Invocation.Workdir.
type Result struct {
	Session      Session
	Transcript   string
	CostUSD      float64
	DurationMS   int64
	TokensInput  int
	TokensOutput int
}

// Runner invokes an agent backend for successive prompt steps
type Runner interface {
	Provider() domain.AgentProvider
	Invoke(ctx context.Context, inv Invocation) (*Result, error)
}

// New returns the Runner for the given provider
func New(provider domain.AgentProvider) (Runner, error) {
	switch provider {
	case domain.ProviderClaudeCode:
		return &ClaudeCode{}, nil
	case domain.ProviderCodex:
		return &Codex{}, nil
	}
	return nil, fmt.Errorf("unknown agent provider %q", provider)
}
