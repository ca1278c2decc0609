package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/patchstorm/patchstorm/internal/domain"
)

// Codex runs prompts through the codex CLI. Codex manages no named sessions,
// so only single-prompt tasks are accepted; task validation rejects
// multi-prompt codex definitions before a job is ever created.
type Codex struct{}

// Provider returns the provider tag for this runner
func (c *Codex) Provider() domain.AgentProvider {
	return domain.ProviderCodex
}

// Invoke executes the prompt in the workspace
func (c *Codex) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Session.Turns > 0 {
		return nil, fmt.Errorf("codex does not support session continuation")
	}

	cmd := exec.CommandContext(ctx, "codex", "exec", "--full-auto", inv.Prompt)
	cmd.Dir = inv.Workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("codex: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	res := &Result{
		Session:    inv.Session,
		Transcript: stdout.String(),
	}
	res.Session.Turns++
	return res, nil
}
