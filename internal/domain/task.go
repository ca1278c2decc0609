package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// RepoSelector describes which repositories a task targets. Include entries
// are taken as given, search results are appended, and excludes are removed
// from the union.
type RepoSelector struct {
	Include     []RepoID `json:"include,omitempty"`
	Exclude     []RepoID `json:"exclude,omitempty"`
	SearchQuery string   `json:"search_query,omitempty"`
}

// TaskDefinition is the declarative description of one change applied across
// repositories. It is immutable once submitted; the job key hash below is
// derived from its content.
type TaskDefinition struct {
	Provider      AgentProvider `json:"provider"`
	CommitMessage string        `json:"commit_message"`
	Selector      RepoSelector  `json:"selector"`
	Prompts       []string      `json:"prompts"`
	DryRun        bool          `json:"dry_run,omitempty"`
	SkipPR        bool          `json:"skip_pr,omitempty"`
	Draft         bool          `json:"draft,omitempty"`
	Reviewers     []string      `json:"reviewers,omitempty"`
}

// Validate checks the invariants that must hold before dispatch
func (t *TaskDefinition) Validate() error {
	if !KnownProvider(t.Provider) {
		return fmt.Errorf("unknown agent provider %q", t.Provider)
	}
	if len(t.Prompts) == 0 {
		return fmt.Errorf("task definition must include at least one prompt")
	}
	for i, p := range t.Prompts {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("prompt %d is empty", i)
		}
	}
	if t.Provider == ProviderCodex && len(t.Prompts) > 1 {
		return fmt.Errorf("multiple prompts are not supported for codex")
	}
	if !t.SkipPR && strings.TrimSpace(t.CommitMessage) == "" {
		return fmt.Errorf("task definition must include a commit message")
	}
	return nil
}

// Hash returns a stable content hash of the task definition. Selector
// excludes and search query participate so that edited selectors produce a
// new run identity.
func (t *TaskDefinition) Hash() string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	write(string(t.Provider), t.CommitMessage, t.Selector.SearchQuery)
	for _, r := range t.Selector.Include {
		write("i", r.String())
	}
	for _, r := range t.Selector.Exclude {
		write("x", r.String())
	}
	for _, p := range t.Prompts {
		write("p", p)
	}
	if t.Draft {
		write("draft")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// JobKey returns the idempotency key for this task applied to one repository
func (t *TaskDefinition) JobKey(repo RepoID) string {
	h := sha256.Sum256([]byte(t.Hash() + "\x00" + repo.String()))
	return hex.EncodeToString(h[:])
}
