package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/patchstorm/patchstorm/internal/domain"
)

// ClaudeCode runs prompts through the claude CLI. Session continuity across
// steps uses named sessions: the first step creates the session with
// --session-id, later steps resume it with --resume so each step sees the
// full conversational context of its predecessors.
type ClaudeCode struct{}

// Provider returns the provider tag for this runner
func (c *ClaudeCode) Provider() domain.AgentProvider {
	return domain.ProviderClaudeCode
}

// Invoke executes one prompt step in the workspace
func (c *ClaudeCode) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	args := []string{
		"--print",
		"--verbose",
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
	}
	if inv.Session.Turns == 0 {
		args = append(args, "--session-id", inv.Session.ID)
	} else {
		args = append(args, "--resume", inv.Session.ID)
	}
	args = append(args, "-p", inv.Prompt)

	cmd := exec.CommandContext(ctx, "claude", args...)
	cmd.Dir = inv.Workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = lastLine(stdout.String())
		}
		return nil, fmt.Errorf("claude: %s: %w", detail, err)
	}

	res := &Result{
		Session:    inv.Session,
		Transcript: stdout.String(),
	}
	res.Session.Turns++
	parseResultStats(stdout.String(), res)
	return res, nil
}

// claudeResultMessage is the final result line of the stream-json output
type claudeResultMessage struct {
	Type       string `json:"type"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

func parseResultStats(output string, res *Result) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var msg claudeResultMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Type == "result" {
			res.CostUSD = msg.TotalCostUSD
			res.DurationMS = msg.DurationMS
			res.TokensInput = msg.Usage.InputTokens
			res.TokensOutput = msg.Usage.OutputTokens
		}
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
