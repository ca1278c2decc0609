package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/patchstorm/patchstorm/internal/agent"
	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/githost"
	"github.com/patchstorm/patchstorm/internal/publisher"
	"github.com/patchstorm/patchstorm/internal/retry"
)

type fakeWorkspace struct {
	dir     string
	dirty   bool
	removed bool
	pushed  []string
}

func (f *fakeWorkspace) Workdir() string              { return f.dir }
func (f *fakeWorkspace) HasChanges() (bool, error)    { return f.dirty, nil }
func (f *fakeWorkspace) Remove() error                { f.removed = true; return nil }
func (f *fakeWorkspace) DiffSummary() (string, error) { return " a.txt | 1 +", nil }

func (f *fakeWorkspace) Commit(branch, message string) (string, error) {
	return "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", nil
}

func (f *fakeWorkspace) Push(ctx context.Context, branch string) error {
	f.pushed = append(f.pushed, branch)
	return nil
}

type fakeManager struct {
	ws        *fakeWorkspace
	failFirst int // number of initial Clone calls that fail
	calls     int
}

func (f *fakeManager) Clone(ctx context.Context, repo domain.RepoID, jobKey string) (Workspace, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("connection reset")
	}
	return f.ws, nil
}

type fakeRunner struct {
	invocations []agent.Invocation
	failAt      int // 1-based invocation index that fails once, 0 for never
	failed      bool
	mutate      func(*fakeWorkspace)
	ws          *fakeWorkspace
}

func (f *fakeRunner) Provider() domain.AgentProvider { return domain.ProviderClaudeCode }

func (f *fakeRunner) Invoke(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
	f.invocations = append(f.invocations, inv)
	if f.failAt > 0 && len(f.invocations) == f.failAt && !f.failed {
		f.failed = true
		return nil, errors.New("agent exited 1")
	}
	if f.mutate != nil {
		f.mutate(f.ws)
	}
	res := &agent.Result{
		Session:    inv.Session,
		CostUSD:    0.10,
		DurationMS: 1000,
	}
	res.Session.Turns++
	return res, nil
}

type fakeHost struct {
	openPR  *githost.PullRequest
	created []githost.PROptions
}

func (f *fakeHost) SearchRepos(ctx context.Context, query string) ([]domain.RepoID, error) {
	return nil, nil
}

func (f *fakeHost) FindOpenPR(ctx context.Context, repo domain.RepoID, branch string) (*githost.PullRequest, error) {
	return f.openPR, nil
}

func (f *fakeHost) CreatePR(ctx context.Context, repo domain.RepoID, opts githost.PROptions) (*githost.PullRequest, error) {
	f.created = append(f.created, opts)
	return &githost.PullRequest{Number: len(f.created), URL: "https://github.com/" + repo.String() + "/pull/1"}, nil
}

func (f *fakeHost) UpdatePR(ctx context.Context, repo domain.RepoID, number int, title, body string) error {
	return nil
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func setup(t *testing.T, prompts int) (*domain.Job, *domain.TaskDefinition, *fakeWorkspace, *fakeManager, *fakeRunner, *fakeHost, *Driver) {
	t.Helper()
	repo, err := domain.ParseRepoID("acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	def := &domain.TaskDefinition{
		Provider:      domain.ProviderClaudeCode,
		CommitMessage: "chore: automated change",
	}
	for i := 0; i < prompts; i++ {
		def.Prompts = append(def.Prompts, fmt.Sprintf("step %d", i+1))
	}
	job := &domain.Job{ID: "job-1", Key: def.JobKey(repo), Repo: repo}

	ws := &fakeWorkspace{dir: "/tmp/ws/job-1"}
	mgr := &fakeManager{ws: ws}
	runner := &fakeRunner{ws: ws, mutate: func(w *fakeWorkspace) { w.dirty = true }}
	host := &fakeHost{}
	d := New(mgr, publisher.New(host, "patchstorm"), fastPolicy(3))
	return job, def, ws, mgr, runner, host, d
}

func TestRunPublishesOnMutation(t *testing.T) {
	job, def, ws, _, runner, host, d := setup(t, 1)

	out, err := d.Run(context.Background(), job, def, runner)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.JobSucceeded {
		t.Fatalf("status = %s: %s", out.Status, out.LastError)
	}
	if len(host.created) != 1 {
		t.Errorf("created %d PRs", len(host.created))
	}
	if out.Publish == nil || out.Publish.Record.PRNumber != 1 {
		t.Errorf("publish = %+v", out.Publish)
	}
	if !ws.removed {
		t.Error("workspace not cleaned up")
	}
	if out.Stats.CostUSD != 0.10 || out.Stats.Provider != domain.ProviderClaudeCode {
		t.Errorf("stats = %+v", out.Stats)
	}
}

func TestRunNoChangesNeverPublishes(t *testing.T) {
	job, def, ws, _, runner, host, d := setup(t, 1)
	runner.mutate = nil

	out, err := d.Run(context.Background(), job, def, runner)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.JobNoChanges {
		t.Errorf("status = %s", out.Status)
	}
	if len(host.created) != 0 || len(ws.pushed) != 0 {
		t.Error("no-op job reached the remote")
	}
	if !ws.removed {
		t.Error("workspace not cleaned up")
	}
}

func TestRunThreadsSessionAcrossSteps(t *testing.T) {
	job, def, _, _, runner, _, d := setup(t, 3)

	out, err := d.Run(context.Background(), job, def, runner)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.JobSucceeded {
		t.Fatalf("status = %s: %s", out.Status, out.LastError)
	}
	if len(runner.invocations) != 3 {
		t.Fatalf("invocations = %d", len(runner.invocations))
	}
	id := runner.invocations[0].Session.ID
	for i, inv := range runner.invocations {
		if inv.Session.ID != id {
			t.Errorf("step %d switched session: %s", i, inv.Session.ID)
		}
		if inv.Session.Turns != i {
			t.Errorf("step %d Turns = %d, want %d", i, inv.Session.Turns, i)
		}
		if inv.Prompt != fmt.Sprintf("step %d", i+1) {
			t.Errorf("step %d prompt = %q", i, inv.Prompt)
		}
	}
	// 3 steps, 0.10 each
	if out.Stats.CostUSD < 0.29 || out.Stats.CostUSD > 0.31 {
		t.Errorf("cost = %v", out.Stats.CostUSD)
	}
}

func TestRunCloneRetryBudget(t *testing.T) {
	// 3 failures then success: budget 3 fails the job, budget 4 drives it
	// to completion.
	job, def, _, mgr, runner, _, d := setup(t, 1)
	mgr.failFirst = 3

	out, err := d.Run(context.Background(), job, def, runner)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.JobFailed || out.Reason != domain.ReasonClone {
		t.Errorf("outcome = %+v", out)
	}
	if mgr.calls != 3 {
		t.Errorf("clone calls = %d, want 3", mgr.calls)
	}

	mgr.calls = 0
	d.Retry = fastPolicy(4)
	out, err = d.Run(context.Background(), job, def, runner)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.JobSucceeded {
		t.Errorf("status = %s: %s", out.Status, out.LastError)
	}
	if mgr.calls != 4 {
		t.Errorf("clone calls = %d, want 4", mgr.calls)
	}
}

func TestRunAgentFailureRecordsStep(t *testing.T) {
	job, def, ws, _, runner, host, d := setup(t, 3)
	d.Retry = fastPolicy(1)
	runner.failAt = 2

	out, err := d.Run(context.Background(), job, def, runner)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.JobFailed || out.Reason != domain.ReasonAgent {
		t.Fatalf("outcome = %+v", out)
	}
	if out.StepIndex != 1 {
		t.Errorf("step index = %d, want 1", out.StepIndex)
	}
	if out.LastError == "" {
		t.Error("last error empty")
	}
	if len(host.created) != 0 {
		t.Error("failed job published")
	}
	if !ws.removed {
		t.Error("workspace not cleaned up after failure")
	}
}

func TestRunAgentStepRetriesWithinBudget(t *testing.T) {
	job, def, _, _, runner, _, d := setup(t, 2)
	runner.failAt = 2 // first attempt of step 2 fails once

	out, err := d.Run(context.Background(), job, def, runner)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.JobSucceeded {
		t.Fatalf("status = %s: %s", out.Status, out.LastError)
	}
	// step 1 once, step 2 twice
	if len(runner.invocations) != 3 {
		t.Errorf("invocations = %d", len(runner.invocations))
	}
	// The retried attempt reuses the same session state
	if runner.invocations[1].Session != runner.invocations[2].Session {
		t.Errorf("retry changed session: %+v vs %+v",
			runner.invocations[1].Session, runner.invocations[2].Session)
	}
}

func TestRunSkipPR(t *testing.T) {
	job, def, ws, _, runner, host, d := setup(t, 1)
	def.SkipPR = true
	def.CommitMessage = ""

	out, err := d.Run(context.Background(), job, def, runner)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.JobSucceeded {
		t.Fatalf("status = %s: %s", out.Status, out.LastError)
	}
	if out.Publish == nil || !out.Publish.SkipPR {
		t.Errorf("publish = %+v", out.Publish)
	}
	if len(ws.pushed) != 0 || len(host.created) != 0 {
		t.Error("skip_pr job reached the remote")
	}
}

func TestRunCancelledContextIsRedelivered(t *testing.T) {
	job, def, _, mgr, runner, _, d := setup(t, 1)
	mgr.failFirst = 100
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := d.Run(ctx, job, def, runner)
	if err == nil {
		t.Fatalf("expected context error, got outcome %+v", out)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
