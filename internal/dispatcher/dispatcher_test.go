package dispatcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/githost"
	"github.com/patchstorm/patchstorm/internal/jobstore"
	"github.com/patchstorm/patchstorm/internal/resolver"
)

type fakeHost struct {
	results []domain.RepoID
	err     error
}

func (f *fakeHost) SearchRepos(ctx context.Context, query string) ([]domain.RepoID, error) {
	return f.results, f.err
}

func (f *fakeHost) FindOpenPR(ctx context.Context, repo domain.RepoID, branch string) (*githost.PullRequest, error) {
	return nil, nil
}

func (f *fakeHost) CreatePR(ctx context.Context, repo domain.RepoID, opts githost.PROptions) (*githost.PullRequest, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeHost) UpdatePR(ctx context.Context, repo domain.RepoID, number int, title, body string) error {
	return errors.New("not implemented")
}

func newDispatcher(t *testing.T, host githost.Client) (*Dispatcher, *jobstore.Store) {
	t.Helper()
	store, err := jobstore.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return New(resolver.New(host), store), store
}

func mustRepos(t *testing.T, names ...string) []domain.RepoID {
	t.Helper()
	repos, err := domain.ParseRepoList(strings.Join(names, ","))
	if err != nil {
		t.Fatal(err)
	}
	return repos
}

func validDef(t *testing.T, repos ...string) *domain.TaskDefinition {
	t.Helper()
	return &domain.TaskDefinition{
		Provider:      domain.ProviderClaudeCode,
		CommitMessage: "chore: automated change",
		Prompts:       []string{"do the thing"},
		Selector:      domain.RepoSelector{Include: mustRepos(t, repos...)},
	}
}

func TestDispatchFansOut(t *testing.T) {
	d, store := newDispatcher(t, &fakeHost{})
	def := validDef(t, "acme/widgets", "acme/gadgets", "acme/sprockets")

	receipt, err := d.Dispatch(context.Background(), def)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Enqueued != 3 || receipt.Skipped != 0 {
		t.Errorf("receipt = %+v", receipt)
	}

	run, err := store.GetRun(receipt.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.TaskHash != def.Hash() {
		t.Errorf("run hash = %q", run.TaskHash)
	}
	if run.Definition.CommitMessage != def.CommitMessage {
		t.Errorf("definition round trip lost commit message")
	}

	jobs, err := store.ListJobs(receipt.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	seen := map[string]bool{}
	for _, j := range jobs {
		if j.Status != domain.JobPending {
			t.Errorf("job %s status = %s", j.Repo, j.Status)
		}
		if j.Key != def.JobKey(j.Repo) {
			t.Errorf("job %s key mismatch", j.Repo)
		}
		seen[j.Repo.String()] = true
	}
	if len(seen) != 3 {
		t.Errorf("repos = %v", seen)
	}
}

func TestDispatchSkipsInFlightDuplicates(t *testing.T) {
	d, _ := newDispatcher(t, &fakeHost{})
	def := validDef(t, "acme/widgets", "acme/gadgets")

	if _, err := d.Dispatch(context.Background(), def); err != nil {
		t.Fatal(err)
	}
	receipt, err := d.Dispatch(context.Background(), def)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Enqueued != 0 || receipt.Skipped != 2 {
		t.Errorf("receipt = %+v, want all skipped", receipt)
	}
}

func TestDispatchResolutionFailureCreatesNothing(t *testing.T) {
	d, store := newDispatcher(t, &fakeHost{err: errors.New("rate limited")})
	def := validDef(t)
	def.Selector.SearchQuery = "language:go"

	if _, err := d.Dispatch(context.Background(), def); err == nil {
		t.Fatal("expected resolution error")
	}
	if _, err := store.LatestRunID(); !errors.Is(err, jobstore.ErrNotFound) {
		t.Errorf("run was created despite failed resolution: %v", err)
	}
}

func TestDispatchInvalidDefinition(t *testing.T) {
	d, _ := newDispatcher(t, &fakeHost{})
	def := validDef(t, "acme/widgets")
	def.Prompts = nil

	if _, err := d.Dispatch(context.Background(), def); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDispatchEmptyResolutionIsValid(t *testing.T) {
	d, store := newDispatcher(t, &fakeHost{})
	def := validDef(t)

	receipt, err := d.Dispatch(context.Background(), def)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Enqueued != 0 || len(receipt.Repos) != 0 {
		t.Errorf("receipt = %+v", receipt)
	}
	jobs, err := store.ListJobs(receipt.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("jobs = %d", len(jobs))
	}
}
